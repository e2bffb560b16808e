package snapshot

import (
	"archive/tar"
	"bytes"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTar(t *testing.T, entries map[string]string, symlinks map[string]string, dirs []string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	for _, d := range dirs {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: d, Typeflag: tar.TypeDir}))
	}
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeReg, Size: int64(len(body))}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	for name, target := range symlinks {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Typeflag: tar.TypeSymlink, Linkname: target}))
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestReadResolvesInArchiveSymlinks(t *testing.T) {
	buf := buildTar(t,
		map[string]string{"events/grp/a": "when_minute = '*'\n"},
		map[string]string{"events/grp/b": "a"},
		nil,
	)

	tree, err := Read(buf, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, []byte("when_minute = '*'\n"), tree["/grp/a"])
	require.Equal(t, []byte("when_minute = '*'\n"), tree["/grp/b"])
}

func TestReadRejectsAbsoluteSymlinkTarget(t *testing.T) {
	buf := buildTar(t,
		map[string]string{"events/grp/a": "x"},
		map[string]string{"events/grp/b": "/etc/passwd"},
		nil,
	)

	tree, err := Read(buf, DefaultOptions())
	require.NoError(t, err)
	_, ok := tree["/grp/b"]
	require.False(t, ok)
}

func TestReadRejectsEscapingSymlinkTarget(t *testing.T) {
	buf := buildTar(t,
		map[string]string{"events/grp/a": "x"},
		map[string]string{"events/grp/b": "../../../etc/passwd"},
		nil,
	)

	tree, err := Read(buf, DefaultOptions())
	require.NoError(t, err)
	_, ok := tree["/grp/b"]
	require.False(t, ok)
}

func TestReadDetectsSymlinkCycle(t *testing.T) {
	buf := buildTar(t, nil,
		map[string]string{"events/a": "b", "events/b": "a"},
		nil,
	)

	tree, err := Read(buf, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, tree)
}

func TestReadIgnoresMatchingDirAndDescendants(t *testing.T) {
	opts := DefaultOptions()
	opts.IgnoreRegexp = regexp.MustCompile(`^\.git$`)

	buf := buildTar(t,
		map[string]string{
			"events/grp/a":          "keep",
			"events/.git/config":    "drop",
			"events/grp/.git/hooks": "drop",
		},
		nil,
		[]string{"events/grp/", "events/.git/", "events/grp/.git/"},
	)

	tree, err := Read(buf, opts)
	require.NoError(t, err)
	require.Contains(t, tree, "/grp/a")
	require.NotContains(t, tree, "/.git/config")
	require.NotContains(t, tree, "/grp/.git/hooks")
}

func TestReadEnforcesSizeCap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxSize = 4

	buf := buildTar(t, map[string]string{"events/a": "way too much data"}, nil, nil)

	_, err := Read(buf, opts)
	require.Error(t, err)
}

func TestReadHandlesBareEventsRoot(t *testing.T) {
	buf := buildTar(t, map[string]string{"events": "root-level file, not a dir"}, nil, nil)

	tree, err := Read(buf, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, tree)
}
