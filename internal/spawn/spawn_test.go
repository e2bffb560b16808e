package spawn

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseOptions() Options {
	return Options{
		AllowLocalhost:  false,
		AllowRootEvents: false,
		RemoteShellType: "ssh",
		RemoteShellExec: "/bin/true",
		LocalHostNames:  LocalHostNames("thishost"),
		CallerUID:       1000,
	}
}

func TestRunRejectsLocalhostWhenDisallowed(t *testing.T) {
	c := NewController()
	_, err := c.Run(context.Background(), baseOptions(), os.Getuid(), os.Getgid(), "u", "thishost", "/bin/true")
	require.Error(t, err)
	var rej RejectError
	require.ErrorAs(t, err, &rej)
}

func TestRunRejectsEmptyHost(t *testing.T) {
	c := NewController()
	_, err := c.Run(context.Background(), baseOptions(), os.Getuid(), os.Getgid(), "u", "", "/bin/true")
	require.Error(t, err)
}

func TestRunRejectsRootWithoutAllowRootEvents(t *testing.T) {
	opts := baseOptions()
	opts.CallerUID = 0
	c := NewController()
	_, err := c.Run(context.Background(), opts, os.Getuid(), os.Getgid(), "u", "otherhost", "/bin/true")
	require.Error(t, err)
}

func TestRunRejectsNonSSHShellType(t *testing.T) {
	opts := baseOptions()
	opts.RemoteShellType = "rsh"
	c := NewController()
	_, err := c.Run(context.Background(), opts, os.Getuid(), os.Getgid(), "u", "otherhost", "/bin/true")
	require.Error(t, err)
}

func TestCodeTaxonomyConstants(t *testing.T) {
	require.EqualValues(t, 0, CodeSuccess)
	require.EqualValues(t, 1, CodeFailure)
	require.EqualValues(t, 125, CodeSignaled)
	require.EqualValues(t, 126, CodeKillFail)
	require.EqualValues(t, 127, CodeExecFail)
	require.EqualValues(t, 255, CodeSSHFail)
}

func TestRunInvokesOnTimeoutBeforeKillPhase(t *testing.T) {
	script := filepath.Join(t.TempDir(), "hang.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nsleep 5\n"), 0o700))

	opts := baseOptions()
	opts.RemoteShellExec = script
	opts.SpawnTimeout = 30 * time.Millisecond
	opts.KillTimeout = 2 * time.Second
	var timedOut int32
	opts.OnTimeout = func() { atomic.StoreInt32(&timedOut, 1) }

	c := NewController()
	code, err := c.Run(context.Background(), opts, os.Getuid(), os.Getgid(), "u", "otherhost", "ignored")
	require.NoError(t, err)
	require.EqualValues(t, CodeSignaled, code)
	require.EqualValues(t, 1, atomic.LoadInt32(&timedOut))
}

func TestControllerDefaultTimeouts(t *testing.T) {
	require.Equal(t, 15*time.Second, DefaultSpawnTimeout)
	require.Equal(t, 10*time.Second, DefaultKillTimeout)
}
