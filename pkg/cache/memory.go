package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/Yiling-J/theine-go"
	"github.com/google/uuid"
	"github.com/juju/clock"
)

// defaultMemoryCapacity bounds the bytes of evictable values held in memory.
const defaultMemoryCapacity = 64 << 20

const minPurgeThreshold = 1024

// ErrNotStored is returned when the cache refuses a value, for example one
// larger than its whole capacity.
var ErrNotStored = errors.New("value not stored")

// InMemoryCache keeps entries in a process-local cache. Locks and counters only
// coordinate goroutines of one process.
//
// Values such as cached traversals live in a size bounded theine cache and may
// be evicted. Coordination keys (locks, job ids and retry counters) are kept in
// a plain map that only shrinks on Del or expiry.
type InMemoryCache struct {
	mu         sync.Mutex
	entries    *theine.Cache[string, []byte]
	pinned     map[string]pinnedEntry
	purgeAt    int
	clock      clock.Clock
	capacity   int64
	defaultTTL time.Duration
}

type pinnedEntry struct {
	value   []byte
	expires time.Time
}

func (e pinnedEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

var _ Cache = (*InMemoryCache)(nil)

type InMemoryOption func(*InMemoryCache)

// WithDefaultTTL sets the ttl used by Set and Incr when none is given.
func WithDefaultTTL(ttl time.Duration) InMemoryOption {
	return func(c *InMemoryCache) {
		c.defaultTTL = ttl
	}
}

// WithCapacity bounds the total size in bytes of evictable values.
func WithCapacity(bytes int64) InMemoryOption {
	return func(c *InMemoryCache) {
		c.capacity = bytes
	}
}

// WithClock sets the clock that expires coordination keys.
func WithClock(clk clock.Clock) InMemoryOption {
	return func(c *InMemoryCache) {
		c.clock = clk
	}
}

func NewInMemoryCache(opts ...InMemoryOption) (*InMemoryCache, error) {
	c := &InMemoryCache{
		pinned:   make(map[string]pinnedEntry),
		purgeAt:  minPurgeThreshold,
		clock:    clock.WallClock,
		capacity: defaultMemoryCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	entries, err := theine.NewBuilder[string, []byte](c.capacity).Build()
	if err != nil {
		return nil, fmt.Errorf("build in-memory cache: %w", err)
	}
	c.entries = entries
	return c, nil
}

func (c *InMemoryCache) Ping(context.Context) error {
	return nil
}

func (c *InMemoryCache) Close() error {
	c.entries.Close()
	return nil
}

func (c *InMemoryCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.del(k)
	}
	return nil
}

func (c *InMemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return v, nil
}

func (c *InMemoryCache) get(key string) ([]byte, bool) {
	if !isCoordinationKey(key) {
		return c.entries.Get(key)
	}
	e, ok := c.pinned[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.clock.Now()) {
		delete(c.pinned, key)
		return nil, false
	}
	return e.value, true
}

func (c *InMemoryCache) set(key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if isCoordinationKey(key) {
		e := pinnedEntry{value: value}
		if ttl > 0 {
			e.expires = c.clock.Now().Add(ttl)
		}
		c.pinned[key] = e
		c.purgeExpired()
		return nil
	}

	cost := max(int64(len(value)), 1)
	var stored bool
	if ttl > 0 {
		stored = c.entries.SetWithTTL(key, value, cost, ttl)
	} else {
		stored = c.entries.Set(key, value, cost)
	}
	if !stored {
		return fmt.Errorf("%w: %q is %d bytes, capacity is %d", ErrNotStored, key, len(value), c.capacity)
	}
	return nil
}

// purgeExpired drops expired coordination keys once the map doubled since the last purge.
func (c *InMemoryCache) purgeExpired() {
	if len(c.pinned) < c.purgeAt {
		return
	}
	now := c.clock.Now()
	for k, e := range c.pinned {
		if e.expired(now) {
			delete(c.pinned, k)
		}
	}
	c.purgeAt = max(2*len(c.pinned), minPurgeThreshold)
}

func (c *InMemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.set(key, value, ttl)
}

func (c *InMemoryCache) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if v, ok := c.get(key); ok {
		parsed, err := strconv.ParseInt(string(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("value at %q is not an integer: %w", key, err)
		}
		n = parsed
	}
	n++
	if err := c.set(key, []byte(strconv.FormatInt(n, 10)), 0); err != nil {
		return 0, err
	}
	return n, nil
}

func (c *InMemoryCache) TryLock(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.get(key); held {
		return nil, false, nil
	}
	token := []byte(uuid.NewString())
	if err := c.set(key, token, ttl); err != nil {
		return nil, false, err
	}

	unlock := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if v, ok := c.get(key); ok && string(v) == string(token) {
			c.del(key)
		}
	}
	return unlock, true, nil
}

func (c *InMemoryCache) del(key string) {
	if isCoordinationKey(key) {
		delete(c.pinned, key)
		return
	}
	c.entries.Delete(key)
}
