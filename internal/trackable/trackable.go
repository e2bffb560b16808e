// Package trackable implements mtime-gated file reloaders: ConfigFile,
// AllowFile, and SignalDir, all built on a common base type.
package trackable

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

// base tracks a path's last-observed modification time so callers can
// cheaply ask "has this changed since I last loaded it".
type base struct {
	path     string
	lastMod  time.Time
	everRead bool
}

func newBase(path string) base {
	return base{path: path}
}

// IsModified reports whether path's mtime differs from the last recorded
// value. A file that has never been read counts as modified.
func (b *base) IsModified() (bool, error) {
	info, err := os.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			// a disappeared file is "modified" so callers re-evaluate and
			// pick up Defaults()/empty state.
			return b.everRead, nil
		}
		return false, errors.Wrapf(err, "stat %q", b.path)
	}
	if !b.everRead {
		return true, nil
	}
	return !info.ModTime().Equal(b.lastMod), nil
}

// ModifiedTime returns the last mtime recorded by Mark.
func (b *base) ModifiedTime() time.Time { return b.lastMod }

// Mark records the file's current mtime as "last seen", called after a
// successful reload.
func (b *base) Mark() error {
	info, err := os.Stat(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			b.everRead = true
			b.lastMod = time.Time{}
			return nil
		}
		return errors.Wrapf(err, "stat %q", b.path)
	}
	b.lastMod = info.ModTime()
	b.everRead = true
	return nil
}
