// Package ondemand implements the on-demand intake thread: a poller
// that turns sentinel-terminated spool files into immediate job
// activations, paced with golang.org/x/time/rate.
package ondemand

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/evcron/evcron/internal/clock"
	"github.com/evcron/evcron/internal/event"
	"github.com/evcron/evcron/internal/job"
	"github.com/evcron/evcron/internal/sysuser"
	"github.com/evcron/evcron/logger"
)

// PollDelay is the on-demand spool poll interval (ENQUEUE_ONDEMAND_DELAY).
const PollDelay = 5 * time.Second

// MaxFileSize caps a spool file's size; larger files are discarded
// unread.
const MaxFileSize = 4096

// Enqueuer is the subset of scheduler.Queue the intake loop needs,
// kept as an interface to avoid an import cycle with package
// scheduler.
type Enqueuer interface {
	Put(ctx context.Context, j job.Job) error
}

// Intake polls Dir every PollDelay and turns each well-formed spool
// file into an ondemand job.
type Intake struct {
	Dir       string
	FQDN      string
	Registry  *event.Registry
	Queue     Enqueuer
	Logger    *logger.Logger
	Generator *job.Generator
	Clock     clock.Clock

	limiter *rate.Limiter
}

// Run polls until ctx is done.
func (in *Intake) Run(ctx context.Context) {
	if in.limiter == nil {
		in.limiter = rate.NewLimiter(rate.Every(PollDelay), 1)
	}
	for {
		if err := in.limiter.Wait(ctx); err != nil {
			return
		}
		in.sweep(ctx)
	}
}

func (in *Intake) sweep(ctx context.Context) {
	entries, err := os.ReadDir(in.Dir)
	if err != nil {
		return
	}
	names := make([]string, 0, len(entries))
	for _, de := range entries {
		if !de.IsDir() {
			names = append(names, de.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		in.process(ctx, filepath.Join(in.Dir, name))
	}
}

func (in *Intake) process(ctx context.Context, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() > MaxFileSize {
		_ = os.Remove(path)
		return
	}

	data, err := readCapped(path, MaxFileSize)
	if err != nil {
		_ = os.Remove(path)
		return
	}
	if !bytes.HasSuffix(data, []byte("\n")) {
		return // incomplete write; leave for a later sweep
	}

	eventName := strings.TrimSpace(string(data))
	uid := ownerUID(info)
	username, err := sysuser.Username(uid)
	if err != nil {
		_ = os.Remove(path)
		return
	}

	ev, ok := in.Registry.Lookup(username, eventName)
	if ok && ev.Accepted() {
		now := in.now()
		id := in.Generator.Next(now)
		j := job.Job{
			JobID:           id,
			JobGID:          id,
			PJobID:          id,
			Username:        username,
			EventName:       eventName,
			EventChainNames: []string{eventName},
			TriggerName:     job.TriggerOndemand,
			TriggerOrigin:   username + "@" + in.FQDN,
			SchedDatetime:   now,
			QueueDatetime:   now,
		}
		in.Logger.Queue(j.Username, j.JobID.String(), j.JobGID.String(), j.EventName, string(j.TriggerName))
		_ = in.Queue.Put(ctx, j)
	}

	_ = os.Remove(path)
}

func (in *Intake) now() time.Time {
	if in.Clock != nil {
		return in.Clock.Now()
	}
	return clock.Real.Now()
}

func readCapped(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	buf := make([]byte, max)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return nil, err
	}
	return buf[:n], nil
}

func ownerUID(info os.FileInfo) int {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return int(st.Uid)
	}
	return -1
}
