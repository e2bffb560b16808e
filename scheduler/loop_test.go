package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/evcron/evcron/internal/clock"
	"github.com/evcron/evcron/internal/job"
	"github.com/evcron/evcron/internal/trackable"
	"github.com/stretchr/testify/require"
)

type loopFixture struct {
	l         *Loop
	queue     *Queue
	configPath string
	allowPath  string
	signalDir  string
}

func newLoopFixture(t *testing.T, at time.Time) *loopFixture {
	t.Helper()
	dir := t.TempDir()
	configPath := filepath.Join(dir, "hcron.conf")
	require.NoError(t, os.WriteFile(configPath, []byte("{}"), 0o644))
	allowPath := filepath.Join(dir, "allow")
	require.NoError(t, os.WriteFile(allowPath, []byte("alice\n"), 0o644))
	signalDir := filepath.Join(dir, "signal")
	require.NoError(t, os.Mkdir(signalDir, 0o755))

	cfg := trackable.NewConfigFile(configPath)
	require.NoError(t, cfg.Reload())
	allow := trackable.NewAllowFile(allowPath)
	require.NoError(t, allow.Reload())
	sig := trackable.NewSignalDir(signalDir)
	require.NoError(t, sig.Mark())

	q := NewQueue(16)
	l := &Loop{
		Clock:     clock.NewMutable(at),
		Registry:  newTestRegistry(t, "/a"),
		Queue:     q,
		Logger:    newTestLogger(t),
		Generator: job.NewGenerator(),
		Config:    cfg,
		Allow:     allow,
		Signal:    sig,
	}
	return &loopFixture{l: l, queue: q, configPath: configPath, allowPath: allowPath, signalDir: signalDir}
}

func TestTickEnqueuesMatchingEvent(t *testing.T) {
	at := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	f := newLoopFixture(t, at)
	require.NoError(t, f.l.tick(context.Background(), at))
	require.Equal(t, 1, f.queue.Len())
}

func TestTickReexecsOnConfigChange(t *testing.T) {
	at := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	f := newLoopFixture(t, at)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(f.configPath, []byte(`{"log_path":"/tmp/x"}`), 0o644))

	reexecCalled := false
	f.l.Reexec = func() error {
		reexecCalled = true
		return nil
	}

	require.NoError(t, f.l.tick(context.Background(), at))
	require.True(t, reexecCalled)
	require.Equal(t, 0, f.queue.Len(), "re-exec should return before enqueuing matches")
}

func TestTickReloadsAllowFileOnChange(t *testing.T) {
	at := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	f := newLoopFixture(t, at)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(f.allowPath, []byte("alice\nbob\n"), 0o644))

	require.NoError(t, f.l.tick(context.Background(), at))
	_, ok := f.l.Allow.Users()["bob"]
	require.True(t, ok)
	require.Contains(t, f.l.Registry.Users(), "bob")
}

func TestTickSweepsSignalDirAndReloadsUser(t *testing.T) {
	at := time.Date(2026, 7, 31, 10, 30, 0, 0, time.UTC)
	f := newLoopFixture(t, at)

	sigFile := filepath.Join(f.signalDir, "req1")
	require.NoError(t, os.WriteFile(sigFile, []byte{}, 0o644))
	time.Sleep(10 * time.Millisecond)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(f.signalDir, future, future))

	require.NoError(t, f.l.tick(context.Background(), at))
	_, statErr := os.Stat(sigFile)
	require.True(t, os.IsNotExist(statErr))
}

func TestTickDoesNothingWhenNoTrackedFilesChange(t *testing.T) {
	at := time.Date(2026, 7, 31, 10, 30, 1, 0, time.UTC)
	f := newLoopFixture(t, at)
	require.NoError(t, f.l.tick(context.Background(), at))
	f.l.Reexec = func() error {
		t.Fatal("unexpected re-exec on unchanged config")
		return nil
	}
	require.NoError(t, f.l.tick(context.Background(), at.Add(time.Minute)))
}
