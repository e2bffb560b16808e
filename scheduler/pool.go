package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/evcron/evcron/internal/audit"
	"github.com/evcron/evcron/internal/event"
	"github.com/evcron/evcron/internal/job"
	"github.com/evcron/evcron/logger"
)

// Pool is a fixed-size worker pool: each worker pops a job, runs the
// activator, emits activate|execute|done, and pushes successor jobs
// bounded by max_chain_events/max_next_events.
type Pool struct {
	Queue     *Queue
	Registry  *event.Registry
	Activator *Activator
	Logger    *logger.Logger
	Generator *job.Generator

	// Journal, if set, receives one Record per completed activation
	// (done or expire), feeding the SIGUSR1 audit dump.
	Journal *audit.Journal

	MaxChainEvents int
	MaxNextEvents  int

	workers int
	wg      sync.WaitGroup
}

// NewPool returns a pool of the given worker count (at least 1) draining
// queue.
func NewPool(queue *Queue, registry *event.Registry, activator *Activator, lg *logger.Logger, gen *job.Generator, workers, maxChainEvents, maxNextEvents int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		Queue:          queue,
		Registry:       registry,
		Activator:      activator,
		Logger:         lg,
		Generator:      gen,
		MaxChainEvents: maxChainEvents,
		MaxNextEvents:  maxNextEvents,
		workers:        workers,
	}
}

// Run starts the worker goroutines; they stop when ctx is done.
func (p *Pool) Run(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
}

// Wait blocks until every worker goroutine has returned.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-p.Queue.ch:
			p.handle(ctx, j)
		}
	}
}

func (p *Pool) handle(ctx context.Context, j job.Job) {
	ev, ok := p.Registry.Lookup(j.Username, j.EventName)
	if !ok || !ev.Accepted() {
		p.Logger.Message(j.Username, "job "+j.JobID.String()+" references unresolved event "+j.EventName)
		return
	}

	result := p.Activator.Activate(ctx, j, ev)
	p.Logger.Done(j.Username, j.JobID.String(), strings.Join(result.NextNames, ":"), result.Kind)
	p.record(j, result)

	children := p.expand(j, result)
	for _, child := range children {
		p.Logger.Queue(child.Username, child.JobID.String(), child.JobGID.String(), child.EventName, string(child.TriggerName))
		if err := p.Queue.Put(ctx, child); err != nil {
			return
		}
	}
}

// record appends one completion Record to the audit journal, if
// configured. Failures are logged but otherwise non-fatal: the journal
// is a diagnostic aid, not the system of record for dispatch.
func (p *Pool) record(j job.Job, result Result) {
	if p.Journal == nil {
		return
	}
	status := "done"
	if result.Expired {
		status = "expire"
	}
	r := audit.Record{
		JobID:       j.JobID.String(),
		JobGID:      j.JobGID.String(),
		Username:    j.Username,
		EventName:   j.EventName,
		TriggerName: string(j.TriggerName),
		Status:      status,
		Detail:      fmt.Sprintf("rv=%d kind=%s next=%s", result.RV, result.Kind, strings.Join(result.NextNames, ":")),
		Timestamp:   p.Activator.now(),
	}
	if err := p.Journal.Append(r); err != nil {
		p.Logger.Message(j.Username, "append audit record: "+err.Error())
	}
}

// expand builds the bounded set of successor jobs named in result:
// chain depth bounded by MaxChainEvents, fan-out width bounded by
// MaxNextEvents, each successor looked up and validated before a
// child job is minted.
func (p *Pool) expand(j job.Job, result Result) []job.Job {
	if len(result.NextNames) == 0 {
		return nil
	}
	depth := len(j.EventChainNames) + 1
	if p.MaxChainEvents > 0 && depth > p.MaxChainEvents {
		return nil
	}

	names := result.NextNames
	if p.MaxNextEvents > 0 && len(names) > p.MaxNextEvents {
		p.Logger.Message(j.Username, "discarding excess successor events beyond max_next_events")
		names = names[:p.MaxNextEvents]
	}

	trigger := job.TriggerNext
	if result.Kind == "failover" {
		trigger = job.TriggerFailover
	}

	now := p.Activator.now()

	var children []job.Job
	for _, name := range names {
		successor, ok := p.Registry.Lookup(j.Username, name)
		if !ok || (successor.Reject != event.RejectNone && successor.Reject != event.RejectTemplate) {
			p.Logger.Message(j.Username, "successor event "+name+" missing or rejected")
			continue
		}
		id := p.Generator.Next(now)
		childChain := make([]string, len(j.EventChainNames)+1)
		copy(childChain, j.EventChainNames)
		childChain[len(j.EventChainNames)] = name
		children = append(children, job.Job{
			JobID:           id,
			JobGID:          j.JobGID,
			PJobID:          j.JobID,
			Username:        j.Username,
			EventName:       name,
			EventChainNames: childChain,
			TriggerName:     trigger,
			TriggerOrigin:   j.EventName,
			SchedDatetime:   now,
			QueueDatetime:   now,
		})
	}
	return children
}
