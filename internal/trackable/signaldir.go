package trackable

import (
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"
)

// SignalDir tracks the reload-request signal directory: a directory
// whose entries are touch files, one per reload request, filtered by
// the directory's own mtime observed at the start of a sweep.
type SignalDir struct {
	base
}

// NewSignalDir constructs a tracker for the signal directory at path.
func NewSignalDir(path string) *SignalDir {
	return &SignalDir{base: newBase(path)}
}

// Entry is one due signal-directory request: the path to remove once
// processed, and the uid of the user who dropped it.
type Entry struct {
	Path string
	UID  int
}

// Sweep lists entries whose mtime is <= the directory's mtime observed
// at the start of this call, and records the new directory mtime via
// Mark. It does not remove files; callers remove each Entry.Path
// after successfully processing it.
func (s *SignalDir) Sweep() ([]Entry, error) {
	dirInfo, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "stat signal dir %q", s.path)
	}
	cutoff := dirInfo.ModTime()

	entries, err := os.ReadDir(s.path)
	if err != nil {
		return nil, errors.Wrapf(err, "read signal dir %q", s.path)
	}

	var due []Entry
	for _, de := range entries {
		full := filepath.Join(s.path, de.Name())
		info, err := os.Stat(full)
		if err != nil {
			continue // raced with removal; skip
		}
		if info.ModTime().After(cutoff) {
			continue // too new, wait for next sweep
		}
		uid := 0
		if st, ok := info.Sys().(*syscall.Stat_t); ok {
			uid = int(st.Uid)
		}
		due = append(due, Entry{Path: full, UID: uid})
	}

	return due, s.Mark()
}
