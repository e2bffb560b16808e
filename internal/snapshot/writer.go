package snapshot

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Build packs eventsDir (a user's events/ tree) into a tar stream,
// writes it to a temp file beside dest, verifies its size against
// maxSize, and renames it over dest atomically. This is the user-side
// snapshot builder, producing ~<user>/.hcron/<host>/snapshot.
func Build(eventsDir, dest string, maxSize int64) error {
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, "create temp snapshot file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	tw := tar.NewWriter(tmp)
	walkErr := filepath.WalkDir(eventsDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(eventsDir, p)
		if err != nil {
			return err
		}
		name := "events"
		if rel != "." {
			name = "events/" + filepath.ToSlash(rel)
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if d.Type()&fs.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, target)
			if err != nil {
				return err
			}
			hdr.Name = name
			return tw.WriteHeader(hdr)
		}

		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if d.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		tw.Close()
		return errors.Wrapf(walkErr, "pack events tree %q", eventsDir)
	}
	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "finalize tar")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp snapshot file")
	}

	info, err := os.Stat(tmpPath)
	if err != nil {
		return errors.Wrap(err, "stat temp snapshot file")
	}
	if maxSize > 0 && info.Size() > maxSize {
		return errors.Errorf("snapshot size %d exceeds max %d", info.Size(), maxSize)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		return errors.Wrapf(err, "rename snapshot into place %q", dest)
	}
	return nil
}
