package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dsrkit/dsrkit/pkg/cache"
	"github.com/dsrkit/dsrkit/pkg/cache/redis"
)

// testRedisAddr returns the address of a disposable Redis server, or skips the test.
func testRedisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("DSRKIT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("DSRKIT_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestNewValidates(t *testing.T) {
	_, err := redis.New(redis.WithAddr("localhost:6379"))
	require.ErrorIs(t, err, redis.ErrTTLMissing)

	_, err = redis.New(redis.WithTTL(10 * time.Second))
	require.ErrorIs(t, err, redis.ErrAddrMissing)
}

func TestRedis(t *testing.T) {
	ctx := context.Background()

	redisClient, err := redis.New(
		redis.WithAddr(testRedisAddr(t)),
		redis.WithDatabase(0),
		redis.WithTTL(10*time.Second),
	)
	require.NoError(t, err)
	require.NoError(t, redisClient.Ping(ctx))

	t.Cleanup(func() {
		require.NoError(t, redisClient.Close())
	})

	key := cache.TaskIDKey("rt_redis_test")
	require.NoError(t, redisClient.Set(ctx, key, []byte("job-1"), 0))
	body, err := redisClient.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, []byte("job-1"), body)

	require.NoError(t, redisClient.Del(ctx, key))
	_, err = redisClient.Get(ctx, key)
	require.ErrorIs(t, err, cache.ErrKeyNotFound)

	counter := cache.RetryCountKey("pri_redis_test")
	require.NoError(t, redisClient.Del(ctx, counter))
	n, err := redisClient.Incr(ctx, counter)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	n, err = redisClient.Incr(ctx, counter)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	lock := cache.LockKey("redis_test")
	unlock, ok, err := redisClient.TryLock(ctx, lock, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = redisClient.TryLock(ctx, lock, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)
	unlock()
	unlock, ok, err = redisClient.TryLock(ctx, lock, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	unlock()
}
