package lifecycle

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/pkg/errors"
)

const daemonizedEnv = "EVCRON_DAEMONIZED"

// Daemonize detaches the process from its controlling terminal: close
// stdio to /dev/null, start a new session, chdir to "/", and set a
// permissive umask. Since Go cannot safely fork() a multi-threaded
// runtime, this re-execs the binary as a new, session-leading child
// with redirected stdio and exits the parent.
//
// Daemonize returns nil immediately in the re-exec'd child (detected
// via an internal marker env var) and never returns in the parent
// process (it calls os.Exit after starting the child).
func Daemonize() error {
	if os.Getenv(daemonizedEnv) == "1" {
		syscall.Umask(0o022)
		return os.Chdir("/")
	}

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "open /dev/null")
	}
	defer devnull.Close()

	exePath, err := os.Executable()
	if err != nil {
		return errors.Wrap(err, "resolve executable path")
	}

	cmd := exec.Command(exePath, os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnv+"=1")
	cmd.Stdin = devnull
	cmd.Stdout = devnull
	cmd.Stderr = devnull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "start daemonized child")
	}
	os.Exit(0)
	return nil // unreachable
}
