package trackable

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// AllowFile tracks the allow-listed username set, one username per
// non-comment line, deduplicated.
type AllowFile struct {
	base
	users map[string]struct{}
}

// NewAllowFile constructs a tracker for the allow file at path. Call
// Reload once before use.
func NewAllowFile(path string) *AllowFile {
	return &AllowFile{base: newBase(path), users: map[string]struct{}{}}
}

// Reload re-reads the allow file and records its mtime.
func (a *AllowFile) Reload() error {
	users := map[string]struct{}{}

	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			a.users = users
			return a.Mark()
		}
		return errors.Wrapf(err, "open allow file %q", a.path)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		users[line] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan allow file %q", a.path)
	}

	a.users = users
	return a.Mark()
}

// Users returns the current allow-listed username set.
func (a *AllowFile) Users() map[string]struct{} {
	return a.users
}
