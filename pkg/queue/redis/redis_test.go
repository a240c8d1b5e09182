package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/queue"
	"github.com/dsrkit/dsrkit/pkg/queue/redis"
)

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("DSRKIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DSRKIT_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{Addrs: []string{addr}})
	t.Cleanup(func() { _ = client.Close() })

	name := "dsrkit-test-" + time.Now().Format("150405.000000")
	t.Cleanup(func() {
		_ = client.Del(ctx, name+":pending", name+":running", name+":revoked").Err()
	})
	q := redis.New(client, name, redis.WithPollTimeout(100*time.Millisecond))

	first, err := q.Enqueue(ctx, queue.KindPrivacyRequest, "pri_1")
	require.NoError(t, err)
	revoked, err := q.Enqueue(ctx, queue.KindRequestTask, "rt_1")
	require.NoError(t, err)
	last, err := q.Enqueue(ctx, queue.KindRequestTask, "rt_2")
	require.NoError(t, err)

	pending, err := q.Pending(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, revoked.ID, last.ID}, pending)

	require.NoError(t, q.Revoke(ctx, revoked.ID))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, job.ID)

	active, err := queue.IsActive(ctx, q, first.ID)
	require.NoError(t, err)
	require.True(t, active)
	require.NoError(t, q.Ack(ctx, first.ID))

	job, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, last.ID, job.ID)

	// the dropped job is forgotten
	isRevoked, err := q.IsRevoked(ctx, revoked.ID)
	require.NoError(t, err)
	require.False(t, isRevoked)

	require.NoError(t, q.Revoke(ctx, last.ID))
	require.NoError(t, q.Ack(ctx, last.ID))
	isRevoked, err = q.IsRevoked(ctx, last.ID)
	require.NoError(t, err)
	require.False(t, isRevoked)

	timeout, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = q.Dequeue(timeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
