// Package cache provides an in-memory TTL cache and a manager for named
// caches.
package cache

import (
	"time"

	"github.com/pkg/errors"
)

// Cache is a key/value store with optional per-entry expiry.
type Cache[K comparable, V any] interface {
	// Put stores a value that never expires.
	Put(key K, value V)
	// PutTTL stores a value that expires after ttl. A ttl <= 0 never expires.
	PutTTL(key K, value V, ttl time.Duration)
	// Get returns the value if present and not expired.
	Get(key K) (V, bool)
	Remove(key K)
	Clear()
	// Len returns the number of stored entries, including expired entries
	// that were not swept yet.
	Len() int
	Contains(key K) bool
}

var (
	// ErrTypeMismatch is returned when a cache name is already bound to other key or value types
	ErrTypeMismatch = errors.New("cache exists with different key or value type")

	// ErrClosed is returned when a closed manager is used
	ErrClosed = errors.New("cache manager is closed")
)

// DefaultSweepInterval is how often expired entries are removed
const DefaultSweepInterval = time.Minute

type entry[V any] struct {
	value     V
	expiresAt int64 // unix nanoseconds, 0 never expires
}

func (e entry[V]) expired(now int64) bool {
	return e.expiresAt > 0 && now > e.expiresAt
}
