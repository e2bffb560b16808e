package scheduler

import (
	"context"
	"os"
	"time"

	"github.com/evcron/evcron/internal/calendar"
	"github.com/evcron/evcron/internal/clock"
	"github.com/evcron/evcron/internal/event"
	"github.com/evcron/evcron/internal/job"
	"github.com/evcron/evcron/internal/sysuser"
	"github.com/evcron/evcron/internal/trackable"
	"github.com/evcron/evcron/logger"
)

// Loop is the single-goroutine minute-tick scheduler: it re-execs on
// config change, rebuilds the registry on allow-file change, sweeps
// the signal directory, and enqueues one job per matching event every
// minute.
type Loop struct {
	Clock     clock.Clock
	Registry  *event.Registry
	Queue     *Queue
	Logger    *logger.Logger
	Generator *job.Generator

	Config *trackable.ConfigFile
	Allow  *trackable.AllowFile
	Signal *trackable.SignalDir

	// Reexec re-execs the scheduler binary with --immediate appended,
	// called when the config file changes (§4.9 step 2). It should not
	// return on success.
	Reexec func() error

	Immediate bool
}

// Run blocks until ctx is done, performing one tick immediately if
// Immediate is set and then one tick per minute thereafter.
func (l *Loop) Run(ctx context.Context) error {
	now := l.now()
	next := now.Truncate(time.Minute)
	if next.Before(now) {
		next = next.Add(time.Minute)
	}

	if l.Immediate {
		l.Logger.Trigger("immediate")
		if err := l.tick(ctx, l.now()); err != nil {
			return err
		}
	}

	for {
		now = l.now()
		if next.After(now) {
			sleep := next.Sub(now) + time.Second
			l.Logger.Sleep(sleep.Seconds())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(sleep):
			}
		} else {
			l.Logger.Status("behind schedule")
		}

		if err := l.tick(ctx, next); err != nil {
			return err
		}

		next = next.Add(time.Minute)
	}
}

func (l *Loop) tick(ctx context.Context, at time.Time) error {
	if modified, err := l.Config.IsModified(); err == nil && modified {
		l.Logger.Status("config file changed, re-executing")
		if l.Reexec != nil {
			return l.Reexec()
		}
	}

	if modified, err := l.Allow.IsModified(); err == nil && modified {
		if err := l.Allow.Reload(); err != nil {
			l.Logger.Status("reload allow file failed: " + err.Error())
		} else {
			users := make([]string, 0, len(l.Allow.Users()))
			for u := range l.Allow.Users() {
				users = append(users, u)
			}
			l.Logger.LoadAllow(len(users))
			if err := l.Registry.Load(users); err != nil {
				l.Logger.Status("registry load errors: " + err.Error())
			}
		}
	}

	if modified, err := l.Signal.IsModified(); err == nil && modified {
		l.sweepSignals()
	}

	dm := calendar.DateMasksFor(at)
	for _, m := range l.Registry.Test(dm) {
		now := l.now()
		id := l.Generator.Next(now)
		j := job.Job{
			JobID:           id,
			JobGID:          id,
			PJobID:          id,
			Username:        m.Username,
			EventName:       m.Event.Name,
			EventChainNames: []string{m.Event.Name},
			TriggerName:     job.TriggerClock,
			TriggerOrigin:   "hcron-scheduler",
			SchedDatetime:   at,
			QueueDatetime:   now,
		}
		l.Logger.Queue(j.Username, j.JobID.String(), j.JobGID.String(), j.EventName, string(j.TriggerName))
		if err := l.Queue.Put(ctx, j); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) sweepSignals() {
	entries, err := l.Signal.Sweep()
	if err != nil {
		l.Logger.Status("signal dir sweep failed: " + err.Error())
		return
	}
	for _, e := range entries {
		username, err := sysuser.Username(e.UID)
		if err != nil {
			l.Logger.Status("resolve uid " + err.Error())
			_ = os.Remove(e.Path)
			continue
		}
		if err := l.Registry.Reload(username); err != nil {
			l.Logger.Status("reload " + username + " failed: " + err.Error())
		}
		_ = os.Remove(e.Path)
	}
}

func (l *Loop) now() time.Time {
	if l.Clock != nil {
		return l.Clock.Now()
	}
	return clock.Real.Now()
}
