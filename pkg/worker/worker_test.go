package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dsrkit/dsrkit/pkg/logger"
	"github.com/dsrkit/dsrkit/pkg/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPoolDispatchesByKind(t *testing.T) {
	q := queue.NewMemoryQueue()
	p := NewPool(q, WithSize(2))

	var (
		mu   sync.Mutex
		seen []string
		done = make(chan struct{})
	)
	record := func(prefix string) HandlerFunc {
		return func(_ context.Context, id string) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, prefix+id)
			if len(seen) == 3 {
				close(done)
			}
			return nil
		}
	}
	p.Handle(queue.KindPrivacyRequest, record("pr:"))
	p.Handle(queue.KindRequestTask, func(ctx context.Context, id string) error {
		if id == "rt_fail" {
			return errors.New("boom")
		}
		return record("rt:")(ctx, id)
	})

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- p.Run(ctx) }()

	for _, j := range []struct{ kind, id string }{
		{queue.KindPrivacyRequest, "pri_1"},
		{queue.KindRequestTask, "rt_fail"},
		{queue.KindRequestTask, "rt_1"},
		{queue.KindRequestTask, "rt_2"},
	} {
		_, err := q.Enqueue(ctx, j.kind, j.id)
		require.NoError(t, err)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("jobs were not processed")
	}
	cancel()
	require.NoError(t, <-errs)
	require.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"pr:pri_1", "rt:rt_1", "rt:rt_2"}, seen)
}

func TestRunSkipsRevokedAndRecoversPanics(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	p := NewPool(q)

	calls := 0
	p.Handle(queue.KindRequestTask, func(context.Context, string) error {
		calls++
		panic("unexpected")
	})

	job, err := q.Enqueue(ctx, queue.KindRequestTask, "rt_1")
	require.NoError(t, err)
	require.ErrorContains(t, p.run(ctx, job), "panic running request_task job")
	require.Equal(t, 1, calls)

	require.NoError(t, q.Revoke(ctx, job.ID))
	require.NoError(t, p.run(ctx, job))
	require.Equal(t, 1, calls)

	require.ErrorContains(t, p.run(ctx, queue.Job{ID: "x", Kind: "unknown"}), "no handler")
}

func TestProcessLogsFailedJobsAndAcks(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })
	log, logs := logger.NewObserverLogger("debug")
	p := NewPool(q, WithLogger(log))
	p.Handle(queue.KindRequestTask, func(context.Context, string) error {
		return errors.New("connector unreachable")
	})

	_, err := q.Enqueue(ctx, queue.KindRequestTask, "rt_1")
	require.NoError(t, err)
	job, err := q.Dequeue(ctx)
	require.NoError(t, err)

	p.process(ctx, job)

	running, err := q.Running(ctx)
	require.NoError(t, err)
	require.Empty(t, running)

	entries := logs.TakeAll()
	require.Len(t, entries, 1)
	require.Equal(t, "job failed", entries[0].Message)
	require.Equal(t, "rt_1", entries[0].ContextMap()["entity_id"])
	require.Equal(t, "connector unreachable", entries[0].ContextMap()["error"])
}

// failingQueue fails every dequeue until ctx ends.
type failingQueue struct {
	queue.Queue
	dequeues atomic.Int32
}

func (q *failingQueue) Dequeue(ctx context.Context) (queue.Job, error) {
	q.dequeues.Add(1)
	if err := ctx.Err(); err != nil {
		return queue.Job{}, err
	}
	return queue.Job{}, errors.New("connection refused")
}

func TestRunBacksOffAfterDequeueErrors(t *testing.T) {
	q := &failingQueue{}
	log, logs := logger.NewObserverLogger("error")
	p := NewPool(q, WithSize(1), WithLogger(log), WithDequeueBackoff(20*time.Millisecond, 40*time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Run(ctx))

	// without a wait between attempts a single worker would spin through
	// many thousands of dequeues in this window
	n := int(q.dequeues.Load())
	require.GreaterOrEqual(t, n, 2)
	require.Less(t, n, 25)

	entries := logs.All()
	require.NotEmpty(t, entries)
	require.Equal(t, "dequeue failed", entries[0].Message)
	require.Equal(t, "connection refused", entries[0].ContextMap()["error"])
}
