// Package lifecycle implements pidfile management, daemonization, and
// signal dispatch for the scheduler process.
package lifecycle

import (
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// PidFile manages the scheduler's pid file.
type PidFile struct {
	Path string
}

// NewPidFile returns a manager for the pid file at path.
func NewPidFile(path string) *PidFile { return &PidFile{Path: path} }

// Create writes the current process's pid to the file, first checking
// whether a pre-existing file names a still-live process via a
// kill(pid, 0) liveness probe rather than unconditionally overwriting
// it (see DESIGN.md). When a leftover file naming a dead process was
// removed, it reports stale=true along with that old pid.
func (p *PidFile) Create() (stalePID int, stale bool, err error) {
	if existing, readErr := p.readPID(); readErr == nil {
		if isAlive(existing) {
			return 0, false, errors.Errorf("pid file %q names a live process (%d)", p.Path, existing)
		}
		_ = os.Remove(p.Path)
		stalePID, stale = existing, true
	}

	pid := os.Getpid()
	if err := os.WriteFile(p.Path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return 0, false, errors.Wrapf(err, "create pid file %q", p.Path)
	}
	return stalePID, stale, nil
}

// Remove deletes the pid file.
func (p *PidFile) Remove() error {
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove pid file %q", p.Path)
	}
	return nil
}

func (p *PidFile) readPID() (int, error) {
	body, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(body)))
	if err != nil {
		return 0, err
	}
	return pid, nil
}

// isAlive probes a pid via kill(pid, 0): success or EPERM means the
// process exists; ESRCH means it does not.
func isAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, unix.EPERM)
}
