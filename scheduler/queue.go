// Package scheduler implements the bounded job queue and worker pool,
// the minute-tick scheduler loop, and the event activator.
package scheduler

import (
	"context"

	"github.com/evcron/evcron/internal/job"
)

// Queue is the bounded job queue: capacity max_queued_jobs. Put blocks
// once the queue is full so every producer
// (scheduler tick, on-demand intake, chain expansion) applies
// backpressure instead of dropping work.
type Queue struct {
	ch chan job.Job
}

// NewQueue returns a queue with the given capacity.
func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{ch: make(chan job.Job, capacity)}
}

// Put enqueues j, blocking until a slot frees or ctx is done.
func (q *Queue) Put(ctx context.Context, j job.Job) error {
	select {
	case q.ch <- j:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len reports the number of jobs currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap reports the queue's capacity.
func (q *Queue) Cap() int { return cap(q.ch) }
