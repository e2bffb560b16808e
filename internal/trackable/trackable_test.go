package trackable

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowFileDedupAndComments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allow")
	require.NoError(t, os.WriteFile(path, []byte("alice\n# comment\nbob\nalice\n"), 0o644))

	af := NewAllowFile(path)
	require.NoError(t, af.Reload())

	users := af.Users()
	require.Len(t, users, 2)
	_, hasAlice := users["alice"]
	_, hasBob := users["bob"]
	require.True(t, hasAlice)
	require.True(t, hasBob)
}

func TestConfigFileIsModified(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hcron.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{"smtp_server": "a"}`), 0o644))

	cf := NewConfigFile(path)
	modified, err := cf.IsModified()
	require.NoError(t, err)
	require.True(t, modified)

	require.NoError(t, cf.Reload())
	modified, err = cf.IsModified()
	require.NoError(t, err)
	require.False(t, modified)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte(`{"smtp_server": "b"}`), 0o644))
	modified, err = cf.IsModified()
	require.NoError(t, err)
	require.True(t, modified)
}

func TestSignalDirSweepRespectsMtimeCutoff(t *testing.T) {
	dir := t.TempDir()
	sd := NewSignalDir(dir)

	entryPath := filepath.Join(dir, "alice.req")
	require.NoError(t, os.WriteFile(entryPath, nil, 0o644))

	due, err := sd.Sweep()
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.Equal(t, entryPath, due[0].Path)
}
