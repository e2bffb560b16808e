package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildPacksReadableSnapshot(t *testing.T) {
	root := t.TempDir()
	eventsDir := filepath.Join(root, "events")
	require.NoError(t, os.MkdirAll(filepath.Join(eventsDir, "grp"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(eventsDir, "grp", "a"), []byte("when_minute = '*'\n"), 0o644))

	dest := filepath.Join(root, "snapshot")
	require.NoError(t, Build(eventsDir, dest, 0))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()

	tree, err := Read(f, DefaultOptions())
	require.NoError(t, err)
	require.Equal(t, []byte("when_minute = '*'\n"), tree["/grp/a"])
}

func TestBuildRejectsOversizeSnapshot(t *testing.T) {
	root := t.TempDir()
	eventsDir := filepath.Join(root, "events")
	require.NoError(t, os.MkdirAll(eventsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(eventsDir, "a"), []byte("more than four bytes"), 0o644))

	dest := filepath.Join(root, "snapshot")
	err := Build(eventsDir, dest, 4)
	require.Error(t, err)

	_, statErr := os.Stat(dest)
	require.True(t, os.IsNotExist(statErr))
}
