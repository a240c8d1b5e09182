//go:generate mockgen -source cache.go -destination ../../internal/mocks/mock_cache.go -package mocks Cache

// Package cache is the shared key/value store the scheduler uses to track
// which queue job runs a task, how often a request was requeued and the
// traversal a request was planned with.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrKeyNotFound = errors.New("key not found")

type Cache interface {
	// Ping returns the backend liveliness response.
	Ping(ctx context.Context) error

	// Close closes the backend connection.
	Close() error

	// Del removes the specified keys. A key is ignored if it does not exist.
	Del(ctx context.Context, keys ...string) error

	// Get returns the value stored at key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A zero ttl uses the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr increments the integer stored at key, starting from zero, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)

	// TryLock acquires a lock named key for at most ttl without blocking.
	// ok is false when another holder owns the lock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}
