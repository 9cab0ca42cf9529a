package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// named is the type-erased view the manager keeps of each cache.
type named interface {
	Name() string
	Clear()
	Len() int
	Close() error
}

// Manager holds named memory caches
type Manager struct {
	caches        *xsync.MapOf[string, named]
	sweepInterval time.Duration

	mu     sync.RWMutex // Named holds it shared, Close exclusively
	closed bool
}

// NewManager creates a manager whose caches sweep every sweepInterval
// (DefaultSweepInterval when zero).
func NewManager(sweepInterval time.Duration) *Manager {
	return &Manager{
		caches:        xsync.NewMapOf[string, named](),
		sweepInterval: sweepInterval,
	}
}

// Named returns the cache registered under name, creating it on first use.
// It fails with ErrTypeMismatch when the name is used with other types.
func Named[K comparable, V any](m *Manager, name string) (*MemoryCache[K, V], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	c, loaded := m.caches.LoadOrCompute(name, func() named {
		return NewMemory[K, V](Config{Name: name, SweepInterval: m.sweepInterval})
	})
	mc, ok := c.(*MemoryCache[K, V])
	if !ok {
		return nil, errors.Wrapf(ErrTypeMismatch, "cache %s is %T", name, c)
	}
	if !loaded {
		log.WithField("cache", name).Debug("cache created")
	}
	return mc, nil
}

// Remove stops and removes the named cache.
func (m *Manager) Remove(name string) {
	if c, ok := m.caches.LoadAndDelete(name); ok {
		c.Close()
		log.WithField("cache", name).Debug("cache removed")
	}
}

// ClearAll empties every cache.
func (m *Manager) ClearAll() {
	m.caches.Range(func(_ string, c named) bool {
		c.Clear()
		return true
	})
}

// Names returns the cache names in sorted order.
func (m *Manager) Names() []string {
	names := make([]string, 0, m.caches.Size())
	m.caches.Range(func(name string, _ named) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Close stops and removes every cache. Named fails afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for _, name := range m.Names() {
		m.Remove(name)
	}
	return nil
}
