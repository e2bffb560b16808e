package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

// Controller turns OS signals into control channel sends, so handlers
// never run reload/dump/quit logic directly -- avoiding re-entrancy
// hazards in signal-context code. SIGHUP requests a full registry
// reload, SIGUSR1 requests a state dump, SIGTERM/SIGQUIT request
// shutdown.
type Controller struct {
	Reload chan struct{}
	Dump   chan struct{}
	Quit   chan struct{}

	sigCh chan os.Signal
}

// NewController returns an uninstalled Controller; call Install to
// start listening.
func NewController() *Controller {
	return &Controller{
		Reload: make(chan struct{}, 1),
		Dump:   make(chan struct{}, 1),
		Quit:   make(chan struct{}),
		sigCh:  make(chan os.Signal, 4),
	}
}

// Install registers OS signal handlers and starts the dispatch
// goroutine. It is idempotent only in the sense that calling it twice
// starts two dispatch goroutines sharing the same channels; callers
// should call it once.
func (c *Controller) Install() {
	signal.Notify(c.sigCh, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGTERM, syscall.SIGQUIT)
	go c.dispatch()
}

// Stop unregisters the signal handlers.
func (c *Controller) Stop() {
	signal.Stop(c.sigCh)
}

func (c *Controller) dispatch() {
	for sig := range c.sigCh {
		switch sig {
		case syscall.SIGHUP:
			nonBlockingSend(c.Reload)
		case syscall.SIGUSR1:
			nonBlockingSend(c.Dump)
		case syscall.SIGTERM, syscall.SIGQUIT:
			close(c.Quit)
			return
		}
	}
}

func nonBlockingSend(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
