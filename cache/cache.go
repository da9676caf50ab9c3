package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/MrEthical07/goGuard/clock"
)

const (
	// DefaultTTL applies when Set is called with a non-positive ttl.
	DefaultTTL = 60 * time.Second
	// DefaultSweepInterval is the period of the background sweep started by Start.
	DefaultSweepInterval = 30 * time.Second
)

// Config holds cache tuning parameters. Zero values select the defaults.
type Config struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// expired is the single eviction predicate shared by reads and sweeps. An
// entry without an expiry is treated as already expired.
func (e entry[V]) expired(now time.Time) bool {
	return e.expiresAt.IsZero() || !now.Before(e.expiresAt)
}

// Cache is an in-memory key/value store with per-entry TTL. Expired entries
// are evicted lazily on Get and periodically by the sweep started with Start.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]

	ttl      time.Duration
	interval time.Duration
	clock    clock.Clock
	loads    singleflight.Group

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// New creates an empty cache. A nil clock selects wall time.
func New[V any](cfg Config, clk clock.Clock) *Cache[V] {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Cache[V]{
		entries:  make(map[string]entry[V]),
		ttl:      ttl,
		interval: interval,
		clock:    clock.OrReal(clk),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Set stores v under key for ttl. A non-positive ttl uses the default.
func (c *Cache[V]) Set(key string, v V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	expiresAt := c.clock.Now().Add(ttl)

	c.mu.Lock()
	c.entries[key] = entry[V]{value: v, expiresAt: expiresAt}
	c.mu.Unlock()
}

// Get returns the live value for key. An expired entry is removed and
// reported as absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if e.expired(now) {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Len reports the number of stored entries, including expired ones not yet
// swept.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache[V]) Sweep() int {
	now := c.clock.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// GetOrLoad returns the cached value for key or calls load to fill it.
// Concurrent misses for the same key share a single load call.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load func(context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.loads.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v, ttl)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, fmt.Errorf("cache: load %q: %w", key, err)
	}
	v, _ := res.(V)
	return v, nil
}

// Start launches the background sweep. Calling Start more than once has no
// further effect.
func (c *Cache[V]) Start() {
	c.startOnce.Do(func() {
		ticker := c.clock.NewTicker(c.interval)
		go func() {
			defer close(c.done)
			defer ticker.Stop()
			for {
				select {
				case <-c.stop:
					return
				case <-ticker.C:
					c.Sweep()
				}
			}
		}()
	})
}

// Close stops the background sweep and waits for it to exit. It is safe to
// call Close without Start and to call it more than once.
func (c *Cache[V]) Close() {
	c.closeOnce.Do(func() {
		close(c.stop)
		started := true
		c.startOnce.Do(func() { started = false })
		if started {
			<-c.done
		}
	})
}
