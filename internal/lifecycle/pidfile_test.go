package lifecycle

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPidFileCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evcron.pid")

	pf := NewPidFile(path)
	_, stale, err := pf.Create()
	require.NoError(t, err)
	require.False(t, stale)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(body))

	require.NoError(t, pf.Remove())
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestPidFileOverwritesDeadProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evcron.pid")
	// pid 999999 is extremely unlikely to be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0o644))

	pf := NewPidFile(path)
	_, stale, err := pf.Create()
	require.NoError(t, err)
	require.True(t, stale)

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid()), string(body))
}

func TestPidFileRemoveMissingIsNotAnError(t *testing.T) {
	pf := NewPidFile(filepath.Join(t.TempDir(), "missing.pid"))
	require.NoError(t, pf.Remove())
}

func TestPidFileDetectsLiveProcess(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "evcron.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

	pf := NewPidFile(path)
	_, stale, err := pf.Create()
	require.Error(t, err)
	require.False(t, stale)
}
