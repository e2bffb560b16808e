package snapshot

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Install copies the snapshot at srcPath (owned by uid/gid) into destPath,
// as the privileged scheduler process. It drops effective uid to the
// owning user to open and stat the source (so a user can never trick the
// daemon into reading a file it could not itself read), restores euid,
// then writes the bytes to a sibling temp file and renames it over
// destPath -- rather than removing destPath and recopying, which would
// leave a window where dest is briefly missing. Finally it sets mode
// 0440 and chowns dest to user:root, per the open-question resolution
// recorded in DESIGN.md.
func Install(srcPath, destPath string, uid, gid int, maxSize int64) error {
	savedEuid := unix.Geteuid()

	if err := unix.Setreuid(-1, uid); err != nil {
		return errors.Wrapf(err, "drop euid to %d", uid)
	}
	body, readErr := readCapped(srcPath, maxSize)
	if err := unix.Setreuid(-1, savedEuid); err != nil {
		return errors.Wrap(err, "restore euid")
	}
	if readErr != nil {
		return errors.Wrapf(readErr, "read snapshot %q as uid %d", srcPath, uid)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".install-*")
	if err != nil {
		return errors.Wrap(err, "create temp install file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp install file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp install file")
	}

	if err := os.Chmod(tmpPath, 0o440); err != nil {
		return errors.Wrap(err, "chmod temp install file")
	}
	if err := os.Chown(tmpPath, uid, 0); err != nil {
		return errors.Wrap(err, "chown temp install file to user:root")
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return errors.Wrapf(err, "install snapshot to %q", destPath)
	}
	return nil
}

func readCapped(path string, maxSize int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, errors.Errorf("snapshot size %d exceeds max %d", info.Size(), maxSize)
	}

	return io.ReadAll(f)
}
