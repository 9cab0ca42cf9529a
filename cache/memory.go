package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mevdschee/tqorm/metrics"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Config holds configuration for a memory cache
type Config struct {
	Name          string        // metric and log label
	SweepInterval time.Duration // DefaultSweepInterval when zero
}

// MemoryCache is a concurrent TTL cache. Expired entries are dropped on
// access and by a background sweep.
type MemoryCache[K comparable, V any] struct {
	name   string
	store  *xsync.MapOf[K, entry[V]]
	loads  singleflight.Group
	now    func() time.Time
	stop   chan struct{}
	done   chan struct{}
	closer sync.Once
}

var _ Cache[string, int] = (*MemoryCache[string, int])(nil)

// NewMemory creates a memory cache and starts its sweeper.
func NewMemory[K comparable, V any](config Config) *MemoryCache[K, V] {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.Name == "" {
		config.Name = "default"
	}
	c := &MemoryCache[K, V]{
		name:  config.Name,
		store: xsync.NewMapOf[K, entry[V]](),
		now:   time.Now,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go c.sweepLoop(config.SweepInterval)
	return c
}

// Name returns the cache name
func (c *MemoryCache[K, V]) Name() string {
	return c.name
}

// Put implements Cache.
func (c *MemoryCache[K, V]) Put(key K, value V) {
	c.store.Store(key, entry[V]{value: value})
}

// PutTTL implements Cache.
func (c *MemoryCache[K, V]) PutTTL(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		c.Put(key, value)
		return
	}
	c.store.Store(key, entry[V]{value: value, expiresAt: c.now().Add(ttl).UnixNano()})
}

// Get implements Cache.
func (c *MemoryCache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lookup(key)
	if ok {
		metrics.CacheHits.WithLabelValues(c.name).Inc()
	} else {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
	}
	return v, ok
}

// Contains implements Cache.
func (c *MemoryCache[K, V]) Contains(key K) bool {
	_, ok := c.lookup(key)
	return ok
}

func (c *MemoryCache[K, V]) lookup(key K) (V, bool) {
	var zero V
	e, ok := c.store.Load(key)
	if !ok {
		return zero, false
	}
	if now := c.now().UnixNano(); e.expired(now) {
		c.removeIfExpired(key, now)
		return zero, false
	}
	return e.value, true
}

// removeIfExpired deletes key only if the stored entry is still expired, so
// a concurrent Put is never lost.
func (c *MemoryCache[K, V]) removeIfExpired(key K, now int64) bool {
	removed := false
	c.store.Compute(key, func(old entry[V], loaded bool) (entry[V], bool) {
		if !loaded {
			return old, true
		}
		if old.expired(now) {
			removed = true
			return old, true
		}
		return old, false
	})
	if removed {
		metrics.CacheExpired.WithLabelValues(c.name).Inc()
	}
	return removed
}

// GetOrLoad returns the cached value or calls load once for all concurrent
// callers of the same key and caches its result for ttl.
func (c *MemoryCache[K, V]) GetOrLoad(ctx context.Context, key K, ttl time.Duration, load func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	res, err, _ := c.loads.Do(loadKey(key), func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		v, err := load(ctx)
		if err != nil {
			return v, err
		}
		c.PutTTL(key, v, ttl)
		return v, nil
	})
	v, _ := res.(V) // nil when V is an interface and the loader returned nil
	if err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}

// loadKey identifies key for singleflight. The type is included so keys of
// an interface K that print alike, such as 1 and "1", do not share a load.
func loadKey(key any) string {
	return fmt.Sprintf("%T:%#v", key, key)
}

// Remove implements Cache.
func (c *MemoryCache[K, V]) Remove(key K) {
	c.store.Delete(key)
}

// Clear implements Cache.
func (c *MemoryCache[K, V]) Clear() {
	c.store.Clear()
	log.WithField("cache", c.name).Debug("cache cleared")
}

// Len implements Cache.
func (c *MemoryCache[K, V]) Len() int {
	return c.store.Size()
}

// Sweep removes every expired entry and returns how many were removed.
func (c *MemoryCache[K, V]) Sweep() int {
	now := c.now().UnixNano()
	var expired []K
	c.store.Range(func(key K, e entry[V]) bool {
		if e.expired(now) {
			expired = append(expired, key)
		}
		return true
	})
	removed := 0
	for _, key := range expired {
		if c.removeIfExpired(key, now) {
			removed++
		}
	}
	if removed > 0 {
		log.WithFields(log.Fields{"cache": c.name, "removed": removed}).Debug("removed expired entries")
	}
	return removed
}

func (c *MemoryCache[K, V]) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Close stops the sweeper. Stored entries stay readable.
func (c *MemoryCache[K, V]) Close() error {
	c.closer.Do(func() {
		close(c.stop)
		select {
		case <-c.done:
		case <-time.After(5 * time.Second):
			log.WithField("cache", c.name).Warn("cache sweeper did not stop in time")
		}
	})
	return nil
}
