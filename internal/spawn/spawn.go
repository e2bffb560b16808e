// Package spawn implements the remote spawn controller: fork/setuid/
// exec a remote shell, with two-stage spawn/kill timeouts and an
// exit-code taxonomy.
package spawn

import (
	"context"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Code is the final result of a spawn attempt, also the process exit
// status logged and returned to chain dispatch.
type Code int

const (
	CodeSuccess  Code = 0
	CodeFailure  Code = 1
	CodeSignaled Code = 125
	CodeKillFail Code = 126
	CodeExecFail Code = 127
	CodeSSHFail  Code = 255
)

// RejectError is a pre-check failure; it never reaches the fork path.
type RejectError struct{ Reason string }

func (e RejectError) Error() string { return e.Reason }

// Options configures one spawn attempt.
type Options struct {
	AllowLocalhost    bool
	AllowRootEvents   bool
	RemoteShellType   string
	RemoteShellExec   string
	LocalHostNames    map[string]struct{}
	CallerUID         int
	SpawnTimeout      time.Duration
	KillTimeout       time.Duration

	// OnTimeout, if set, is called once when spawn_timeout elapses
	// without the child reporting, right before the kill phase begins.
	OnTimeout func()
}

// DefaultSpawnTimeout and DefaultKillTimeout are the built-in spawn
// and kill-phase timeouts.
const (
	DefaultSpawnTimeout = 15 * time.Second
	DefaultKillTimeout  = 10 * time.Second
)

// Controller runs remote command spawns.
type Controller struct {
	// waitInterval is the spawn-phase poll interval (default 10ms).
	waitInterval time.Duration
	// killInterval is the kill-phase poll interval (default 100ms).
	killInterval time.Duration
}

// NewController returns a ready-to-use Controller with the default
// poll cadences.
func NewController() *Controller {
	return &Controller{waitInterval: 10 * time.Millisecond, killInterval: 100 * time.Millisecond}
}

// Run executes command as remoteUser@host via a forked, setuid'd,
// session-leading remote shell, applying pre-checks before the fork
// and a two-stage timeout after it. localUID/localGID are the
// uid/gid to drop to before exec.
func (c *Controller) Run(ctx context.Context, opts Options, localUID, localGID int, remoteUser, host, command string) (Code, error) {
	if host == "" {
		return 0, RejectError{"missing host name for event"}
	}
	if _, isLocal := opts.LocalHostNames[host]; isLocal && !opts.AllowLocalhost {
		return 0, RejectError{"execution on local host is not allowed"}
	}
	if opts.CallerUID == 0 && !opts.AllowRootEvents {
		return 0, RejectError{"root user not allowed to execute"}
	}
	if opts.RemoteShellType != "ssh" {
		return 0, RejectError{"unknown remote shell type: " + opts.RemoteShellType}
	}

	spawnTimeout := opts.SpawnTimeout
	if spawnTimeout <= 0 {
		spawnTimeout = DefaultSpawnTimeout
	}
	killTimeout := opts.KillTimeout
	if killTimeout <= 0 {
		killTimeout = DefaultKillTimeout
	}

	args := []string{"-f", "-n", "-t", "-l", remoteUser, host, strings.TrimSpace(command)}
	cmd := exec.CommandContext(ctx, opts.RemoteShellExec, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(localUID), Gid: uint32(localGID)},
		Setsid:     true,
	}

	if err := cmd.Start(); err != nil {
		return CodeExecFail, errors.Wrap(err, "start remote shell")
	}

	return c.wait(cmd, spawnTimeout, killTimeout, opts.OnTimeout)
}

func (c *Controller) wait(cmd *exec.Cmd, spawnTimeout, killTimeout time.Duration, onTimeout func()) (Code, error) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		return exitCode(cmd, err), nil
	case <-time.After(spawnTimeout):
	}

	if onTimeout != nil {
		onTimeout()
	}

	deadline := time.Now().Add(killTimeout)
	for time.Now().Before(deadline) {
		_ = cmd.Process.Signal(unix.SIGKILL)
		select {
		case err := <-done:
			return exitCode(cmd, err), nil
		case <-time.After(c.killInterval):
		}
	}
	return CodeKillFail, nil
}

func exitCode(cmd *exec.Cmd, waitErr error) Code {
	if waitErr == nil {
		return CodeSuccess
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if status.Signaled() {
				return CodeSignaled
			}
			switch status.ExitStatus() {
			case 255:
				return CodeSSHFail
			case 256: // matches the original's sentinel for exec failure in the child
				return CodeExecFail
			default:
				return CodeFailure
			}
		}
	}
	return CodeFailure
}

// LocalHostNames builds the lookup set used for the allow_localhost
// pre-check from a resolved host identity.
func LocalHostNames(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
