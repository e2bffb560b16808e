package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/evcron/evcron/email"
	"github.com/evcron/evcron/internal/clock"
	"github.com/evcron/evcron/internal/event"
	"github.com/evcron/evcron/internal/job"
	"github.com/evcron/evcron/internal/spawn"
	"github.com/evcron/evcron/internal/subst"
	"github.com/evcron/evcron/internal/sysuser"
	"github.com/evcron/evcron/logger"
)

// Result is the outcome of activating one job against its event.
// NextNames are already resolved to absolute event names; Kind is
// "next", "failover", or "" when NextNames is empty.
type Result struct {
	Success   bool
	RV        int
	Expired   bool
	NextNames []string
	Kind      string
}

// Activator runs the event-activation pipeline: late-variable
// substitution, spawn dispatch, notification, and next/failover
// resolution. One Activator is shared by every pool worker.
type Activator struct {
	Spawn    *spawn.Controller
	Notifier *email.Notifier
	Logger   *logger.Logger
	Clock    clock.Clock

	SpawnOpts             spawn.Options
	CommandSpawnTimeout   time.Duration
	ErrorOnEmptyCommand   bool
	MaxEmailNotifications int
}

// Activate runs one job's activation against its (already looked up)
// event.
func (a *Activator) Activate(ctx context.Context, j job.Job, ev event.Event) Result {
	now := a.now()
	vars := a.buildLateVars(j, now)

	assignmentValues := make(map[string]string, len(ev.Assignments))
	for _, kv := range ev.Assignments {
		substituted := subst.Evaluate(kv.Value, vars)
		vars[kv.Key] = substituted
		assignmentValues[kv.Key] = substituted
	}

	asUser := assignmentValues["as_user"]
	if asUser == "" {
		asUser = j.Username
	}
	host := assignmentValues["host"]
	command := assignmentValues["command"]
	notifyEmail := assignmentValues["notify_email"]
	notifySubject := assignmentValues["notify_subject"]
	notifyMessage := unescapeControlChars(assignmentValues["notify_message"])
	nextEvent := assignmentValues["next_event"]
	failoverEvent := assignmentValues["failover_event"]
	whenExpire := assignmentValues["when_expire"]

	elapsed := now.Sub(j.SchedDatetime)
	if whenExpire != "" {
		if budget, err := parseExpireBudget(whenExpire); err == nil && elapsed > budget {
			a.Logger.Expire(j.Username, j.JobID.String(), elapsed.Seconds())
			return a.buildResult(j, ev, false, 0, true, failoverEvent)
		}
	}

	a.Logger.Activate(j.Username, j.JobID.String(), ev.Name)

	var rv int
	var success bool
	if command == "" {
		success = !a.ErrorOnEmptyCommand
		if !success {
			rv = 1
		}
	} else {
		localUID, uidErr := sysuser.UID(j.Username)
		localGID, gidErr := sysuser.GID(j.Username)
		if uidErr != nil || gidErr != nil {
			rv = int(spawn.CodeFailure)
		} else {
			spawnCtx, cancel := context.WithTimeout(ctx, a.spawnTimeout()+10*time.Second)
			opts := a.SpawnOpts
			opts.SpawnTimeout = a.spawnTimeout()
			opts.CallerUID = localUID
			opts.OnTimeout = func() {
				a.Logger.Alarm(j.Username, j.JobID.String(), fmt.Sprintf("execute timeout expired (%d)", int(opts.SpawnTimeout.Seconds())))
			}
			code, err := a.Spawn.Run(spawnCtx, opts, localUID, localGID, asUser, host, command)
			cancel()
			if err != nil {
				if rej, ok := err.(spawn.RejectError); ok {
					a.Logger.Alarm(j.Username, j.JobID.String(), rej.Error())
				}
				rv = int(spawn.CodeFailure)
			} else {
				rv = int(code)
				success = code == spawn.CodeSuccess
			}
		}
	}
	a.Logger.Execute(j.Username, j.JobID.String(), rv)

	if success && notifyEmail != "" {
		a.notify(ctx, j, notifyEmail, notifySubject, notifyMessage)
	}

	if success {
		return a.buildResult(j, ev, true, rv, false, nextEvent)
	}
	return a.buildResult(j, ev, false, rv, false, failoverEvent)
}

// buildResult splits target by ":" and resolves each segment relative
// to ev.Name.
func (a *Activator) buildResult(j job.Job, ev event.Event, success bool, rv int, expired bool, target string) Result {
	res := Result{Success: success, RV: rv, Expired: expired}

	target = strings.TrimSpace(target)
	if target == "" {
		return res
	}

	kind := "failover"
	if success {
		kind = "next"
	}

	for _, part := range strings.Split(target, ":") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		res.NextNames = append(res.NextNames, event.ResolveName(part, ev.Name))
	}
	if len(res.NextNames) > 0 {
		res.Kind = kind
	}
	return res
}

func (a *Activator) notify(ctx context.Context, j job.Job, notifyEmail, subject, body string) {
	recipients := email.Recipients(notifyEmail, a.MaxEmailNotifications)
	for _, to := range recipients {
		err := a.Notifier.Send(ctx, to, subject, body)
		a.Logger.NotifyEmail(j.Username, to, err == nil)
	}
}

func (a *Activator) now() time.Time {
	if a.Clock != nil {
		return a.Clock.Now()
	}
	return clock.Real.Now()
}

func (a *Activator) spawnTimeout() time.Duration {
	if a.CommandSpawnTimeout > 0 {
		return a.CommandSpawnTimeout
	}
	return spawn.DefaultSpawnTimeout
}

// buildLateVars seeds the late-substitution variable map: trigger/job
// identity, chain history, and the activate/schedule/queue datetime
// families. Early-substituted assignment values from Load already
// embedded any seed-map reference (HCRON_HOST_NAME, HCRON_EVENT_NAME,
// ...); only late-only references remain unresolved in
// ev.Assignments' values at this point.
func (a *Activator) buildLateVars(j job.Job, now time.Time) subst.Vars {
	vars := subst.Vars{
		"HCRON_TRIGGER_NAME":   string(j.TriggerName),
		"HCRON_TRIGGER_ORIGIN": j.TriggerOrigin,
		"HCRON_JOBID":          j.JobID.String(),
		"HCRON_JOBGID":         j.JobGID.String(),
		"HCRON_PJOBID":         j.PJobID.String(),
		"HCRON_EVENT_CHAIN":    j.Chain(),
		"HCRON_SELF_CHAIN":     j.SelfChain(),
	}
	addDatetimeFamily(vars, "HCRON_ACTIVATE", now)
	addDatetimeFamily(vars, "HCRON_SCHEDULE", j.SchedDatetime)
	addDatetimeFamily(vars, "HCRON_QUEUE", j.QueueDatetime)
	return vars
}

const datetimeLayout = "2006-01-02 15:04:05"

func addDatetimeFamily(vars subst.Vars, prefix string, t time.Time) {
	vars[prefix+"_DATETIME"] = t.Format(datetimeLayout)
	vars[prefix+"_DATETIME_UTC"] = t.UTC().Format(datetimeLayout)
	vars[prefix+"_EPOCHTIME"] = strconv.FormatInt(t.Unix(), 10)
	vars[prefix+"_EPOCHTIME_UTC"] = strconv.FormatInt(t.UTC().Unix(), 10)
}

// parseExpireBudget parses when_expire's HH:MM:SS / MM:SS / SS forms
// into a duration.
func parseExpireBudget(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	var h, m, sec int
	var err error
	switch len(parts) {
	case 1:
		sec, err = strconv.Atoi(parts[0])
	case 2:
		m, err = strconv.Atoi(parts[0])
		if err == nil {
			sec, err = strconv.Atoi(parts[1])
		}
	case 3:
		h, err = strconv.Atoi(parts[0])
		if err == nil {
			m, err = strconv.Atoi(parts[1])
		}
		if err == nil {
			sec, err = strconv.Atoi(parts[2])
		}
	default:
		return 0, errors.Errorf("bad when_expire format %q", s)
	}
	if err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, nil
}

func unescapeControlChars(s string) string {
	s = strings.ReplaceAll(s, `\n`, "\n")
	s = strings.ReplaceAll(s, `\t`, "\t")
	return s
}
