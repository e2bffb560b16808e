package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestReadCappedEnforcesSizeLimit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshot")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	_, err := readCapped(path, 4)
	require.Error(t, err)

	body, err := readCapped(path, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789"), body)
}

// TestInstallRenamesOverDestination only exercises the full privileged
// path when run as root, since Install drops euid via Setreuid. Under a
// non-root test runner it is skipped rather than faked.
func TestInstallRenamesOverDestination(t *testing.T) {
	if unix.Geteuid() != 0 {
		t.Skip("requires root to exercise the euid-dropping install path")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o644))

	dest := filepath.Join(dir, "dest")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o440))

	require.NoError(t, Install(src, dest, os.Getuid(), os.Getgid(), 0))

	body, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "payload", string(body))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o440), info.Mode().Perm())
}
