// Package sysuser resolves uid/username identities.
package sysuser

import (
	"os"
	"os/user"
	"strconv"

	"github.com/pkg/errors"
)

// Username resolves a numeric uid to its username.
func Username(uid int) (string, error) {
	u, err := user.LookupId(strconv.Itoa(uid))
	if err != nil {
		return "", errors.Wrapf(err, "resolve uid %d", uid)
	}
	return u.Username, nil
}

// UID resolves a username to its numeric uid.
func UID(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve username %q", username)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, errors.Wrapf(err, "non-numeric uid for %q", username)
	}
	return uid, nil
}

// GID resolves a username's primary gid.
func GID(username string) (int, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return 0, errors.Wrapf(err, "resolve username %q", username)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, errors.Wrapf(err, "non-numeric gid for %q", username)
	}
	return gid, nil
}

// Whoami returns the username of the calling process's real uid.
func Whoami() (string, error) {
	return Username(os.Getuid())
}
