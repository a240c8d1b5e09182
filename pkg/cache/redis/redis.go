// Package redis is a cache.Cache backed by Redis, shared between all scheduler
// processes of a deployment.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/dsrkit/dsrkit/pkg/cache"
)

type options func(s *Handle)
type Handle struct {
	db             int
	ttl            time.Duration
	addrs          []string
	userCredential string
	passCredential string
	client         redis.UniversalClient
}

var _ cache.Cache = (*Handle)(nil)

var (
	ErrTTLMissing  = fmt.Errorf("TTL must be specified")
	ErrAddrMissing = fmt.Errorf("redis addresses must be specified")
)

// unlockScript deletes the lock only while it still holds the caller's token.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// WithTTL sets the default Time To Live of cached items.
func WithTTL(ttl time.Duration) options {
	return func(h *Handle) {
		h.ttl = ttl
	}
}

func WithAddr(addrs string) options {
	return func(h *Handle) {
		h.addrs = strings.Split(addrs, ",")
	}
}

func WithUserCredential(credential string) options {
	return func(h *Handle) {
		h.userCredential = credential
	}
}

func WithPassCredential(credential string) options {
	return func(h *Handle) {
		h.passCredential = credential
	}
}

func WithDatabase(db int) options {
	return func(h *Handle) {
		h.db = db
	}
}

// New creates a Redis handle. It does not dial until first use.
func New(opts ...options) (*Handle, error) {
	h := &Handle{}

	for _, opt := range opts {
		opt(h)
	}

	if err := h.validate(); err != nil {
		return nil, err
	}

	h.client = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    h.addrs,
		DB:       h.db,
		Username: h.userCredential,
		Password: h.passCredential,
	})

	return h, nil
}

func (h *Handle) validate() error {
	if len(h.addrs) == 0 || h.addrs[0] == "" {
		return ErrAddrMissing
	}

	if h.ttl == 0 {
		return ErrTTLMissing
	}

	return nil
}

// Client exposes the underlying connection for components sharing it, such as the job queue.
func (h *Handle) Client() redis.UniversalClient {
	return h.client
}

func (h *Handle) Ping(ctx context.Context) error {
	return h.client.Ping(ctx).Err()
}

func (h *Handle) Close() error {
	return h.client.Close()
}

func (h *Handle) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return h.client.Del(ctx, keys...).Err()
}

func (h *Handle) Get(ctx context.Context, key string) ([]byte, error) {
	redisCmd := h.client.Get(ctx, key)
	switch {
	case errors.Is(redisCmd.Err(), redis.Nil):
		return nil, cache.ErrKeyNotFound
	case redisCmd.Err() != nil:
		return nil, redisCmd.Err()
	default:
		return []byte(redisCmd.Val()), nil
	}
}

func (h *Handle) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return h.ttl
	}
	return ttl
}

func (h *Handle) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return h.client.Set(ctx, key, string(value), h.ttlOrDefault(ttl)).Err()
}

// Incr increments the counter and refreshes its ttl in one transaction.
func (h *Handle) Incr(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := h.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, h.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

func (h *Handle) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := h.client.SetNX(ctx, key, token, h.ttlOrDefault(ttl)).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	unlock := func() {
		// the lock expires on its own if this fails
		_ = unlockScript.Run(context.WithoutCancel(ctx), h.client, []string{key}, token).Err()
	}
	return unlock, true, nil
}
