package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/evcron/evcron/internal/job"
	"github.com/stretchr/testify/require"
)

func TestQueuePutBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	require.NoError(t, q.Put(context.Background(), job.Job{EventName: "/a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := q.Put(ctx, job.Job{EventName: "/b"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueLenAndCap(t *testing.T) {
	q := NewQueue(4)
	require.Equal(t, 4, q.Cap())
	require.Equal(t, 0, q.Len())
	require.NoError(t, q.Put(context.Background(), job.Job{}))
	require.Equal(t, 1, q.Len())
}
