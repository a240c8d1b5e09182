package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *InMemoryCache {
	t.Helper()
	c, err := NewInMemoryCache(WithDefaultTTL(time.Hour))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	return c
}

func TestInMemoryGetSetDel(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	_, err := c.Get(ctx, TaskIDKey("pri_1"))
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, c.Set(ctx, TaskIDKey("pri_1"), []byte("job-1"), 0))
	v, err := c.Get(ctx, TaskIDKey("pri_1"))
	require.NoError(t, err)
	require.Equal(t, []byte("job-1"), v)

	require.NoError(t, c.Del(ctx, TaskIDKey("pri_1"), "missing"))
	_, err = c.Get(ctx, TaskIDKey("pri_1"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestInMemoryIncr(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	for want := int64(1); want <= 3; want++ {
		n, err := c.Incr(ctx, RetryCountKey("pri_1"))
		require.NoError(t, err)
		require.Equal(t, want, n)
	}

	require.NoError(t, c.Set(ctx, "not-a-number", []byte("abc"), 0))
	_, err := c.Incr(ctx, "not-a-number")
	require.Error(t, err)
}

func TestInMemoryTryLock(t *testing.T) {
	ctx := context.Background()
	c := newTestCache(t)

	unlock, ok, err := c.TryLock(ctx, LockKey("poll_async_tasks"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = c.TryLock(ctx, LockKey("poll_async_tasks"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	unlock()
	unlock2, ok, err := c.TryLock(ctx, LockKey("poll_async_tasks"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	// a stale unlock must not release a lock taken after it
	unlock()
	_, ok, err = c.TryLock(ctx, LockKey("poll_async_tasks"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	unlock2()
}

func TestInMemoryLockExpires(t *testing.T) {
	ctx := context.Background()
	clk := testclock.NewClock(time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC))
	c, err := NewInMemoryCache(WithClock(clk))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	_, ok, err := c.TryLock(ctx, LockKey("requeue_interrupted_tasks"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	clk.Advance(59 * time.Second)
	_, ok, err = c.TryLock(ctx, LockKey("requeue_interrupted_tasks"), time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	clk.Advance(time.Second)
	_, ok, err = c.TryLock(ctx, LockKey("requeue_interrupted_tasks"), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestInMemoryEvictionKeepsCoordinationKeys(t *testing.T) {
	ctx := context.Background()
	c, err := NewInMemoryCache(WithCapacity(256))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	unlock, ok, err := c.TryLock(ctx, LockKey("poll_async_tasks"), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()
	require.NoError(t, c.Set(ctx, TaskIDKey("rt_1"), []byte("job-1"), 0))
	_, err = c.Incr(ctx, RetryCountKey("pri_1"))
	require.NoError(t, err)

	for i := 0; i < 1000; i++ {
		require.NoError(t, c.Set(ctx, AccessGraphKey(fmt.Sprintf("pri_%d", i)), make([]byte, 32), 0))
	}

	v, err := c.Get(ctx, TaskIDKey("rt_1"))
	require.NoError(t, err)
	require.Equal(t, []byte("job-1"), v)
	v, err = c.Get(ctx, RetryCountKey("pri_1"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
	_, ok, err = c.TryLock(ctx, LockKey("poll_async_tasks"), time.Hour)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInMemoryRejectsOversizedValue(t *testing.T) {
	ctx := context.Background()
	c, err := NewInMemoryCache(WithCapacity(64))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	err = c.Set(ctx, AccessGraphKey("pri_1"), make([]byte, 128), 0)
	require.ErrorIs(t, err, ErrNotStored)
	_, err = c.Get(ctx, AccessGraphKey("pri_1"))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "task-id:rt_1", TaskIDKey("rt_1"))
	require.Equal(t, "retry-count:pri_1", RetryCountKey("pri_1"))
	require.Equal(t, "access-graph:pri_1", AccessGraphKey("pri_1"))
	require.Equal(t, "lock:poll_async_tasks", LockKey("poll_async_tasks"))

	require.True(t, isCoordinationKey(TaskIDKey("rt_1")))
	require.True(t, isCoordinationKey(RetryCountKey("pri_1")))
	require.True(t, isCoordinationKey(LockKey("poll_async_tasks")))
	require.False(t, isCoordinationKey(AccessGraphKey("pri_1")))
}
