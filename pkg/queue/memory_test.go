package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	first, err := q.Enqueue(ctx, KindPrivacyRequest, "pri_1")
	require.NoError(t, err)
	second, err := q.Enqueue(ctx, KindRequestTask, "rt_1")
	require.NoError(t, err)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, pending)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first, job)

	active, err := IsActive(ctx, q, first.ID)
	require.NoError(t, err)
	require.True(t, active)

	running, err := q.Running(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID}, running)

	require.NoError(t, q.Ack(ctx, first.ID))
	active, err = IsActive(ctx, q, first.ID)
	require.NoError(t, err)
	require.False(t, active)

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "rt_1", job.EntityID)
	require.Equal(t, KindRequestTask, job.Kind)
}

func TestMemoryQueueSkipsRevoked(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	revoked, err := q.Enqueue(ctx, KindRequestTask, "rt_1")
	require.NoError(t, err)
	kept, err := q.Enqueue(ctx, KindRequestTask, "rt_2")
	require.NoError(t, err)
	require.NoError(t, q.Revoke(ctx, revoked.ID))

	ok, err := q.IsRevoked(ctx, revoked.ID)
	require.NoError(t, err)
	require.True(t, ok)

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, kept.ID, job.ID)

	// the dropped job is forgotten
	ok, err = q.IsRevoked(ctx, revoked.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, q.revoked)
}

func TestMemoryQueueForgetsRevokedJobs(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	// jobs that are neither pending nor running are not recorded
	require.NoError(t, q.Revoke(ctx, "unknown"))
	require.Empty(t, q.revoked)

	job, err := q.Enqueue(ctx, KindRequestTask, "rt_1")
	require.NoError(t, err)
	running, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, job.ID, running.ID)

	require.NoError(t, q.Revoke(ctx, job.ID))
	ok, err := q.IsRevoked(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Ack(ctx, job.ID))
	ok, err = q.IsRevoked(ctx, job.ID)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, q.revoked)

	// acked jobs cannot be revoked again
	require.NoError(t, q.Revoke(ctx, job.ID))
	require.Empty(t, q.revoked)
}

func TestMemoryQueueDequeueBlocks(t *testing.T) {
	q := NewMemoryQueue()
	t.Cleanup(func() { _ = q.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	got := make(chan Job, 1)
	go func() {
		job, err := q.Dequeue(context.Background())
		if err == nil {
			got <- job
		}
		close(got)
	}()

	enqueued, err := q.Enqueue(context.Background(), KindPrivacyRequest, "pri_1")
	require.NoError(t, err)
	select {
	case job := <-got:
		require.Equal(t, enqueued.ID, job.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up")
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue()
	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()

	require.NoError(t, q.Close())
	require.ErrorIs(t, <-errs, ErrClosed)

	_, err := q.Enqueue(context.Background(), KindPrivacyRequest, "pri_1")
	require.ErrorIs(t, err, ErrClosed)
}
