package pool

import (
	"context"
	"sort"
	"sync"

	"github.com/mevdschee/tqorm/config"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	log "github.com/sirupsen/logrus"
)

// Registry holds named pools. The first registered pool is the default
// until SetDefault picks another one.
type Registry struct {
	pools *xsync.MapOf[string, *Pool]

	mu  sync.Mutex // guards def
	def string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{pools: xsync.NewMapOf[string, *Pool]()}
}

// Open opens a pool and registers it under name.
func (r *Registry) Open(ctx context.Context, name string, cfg config.Database) (*Pool, error) {
	p, err := Open(ctx, name, cfg)
	if err != nil {
		return nil, err
	}
	r.Register(p)
	return p, nil
}

// Register adds p under its name. A pool already registered under that name
// is closed and replaced.
func (r *Registry) Register(p *Pool) {
	if old, loaded := r.pools.LoadAndStore(p.Name(), p); loaded && old != p {
		if err := old.Close(); err != nil {
			log.WithError(err).WithField("pool", old.Name()).Warn("closing replaced pool failed")
		}
	}
	r.mu.Lock()
	if r.def == "" {
		r.def = p.Name()
	}
	r.mu.Unlock()
}

// Get returns the named pool
func (r *Registry) Get(name string) (*Pool, error) {
	p, ok := r.pools.Load(name)
	if !ok {
		return nil, errors.Wrap(ErrPoolNotFound, name)
	}
	return p, nil
}

// Has reports whether a pool is registered under name
func (r *Registry) Has(name string) bool {
	_, ok := r.pools.Load(name)
	return ok
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, r.pools.Size())
	r.pools.Range(func(name string, _ *Pool) bool {
		names = append(names, name)
		return true
	})
	sort.Strings(names)
	return names
}

// Default returns the default pool
func (r *Registry) Default() (*Pool, error) {
	r.mu.Lock()
	name := r.def
	r.mu.Unlock()
	if name == "" {
		return nil, errors.Wrap(ErrPoolNotFound, "no default pool")
	}
	return r.Get(name)
}

// SetDefault makes the named pool the default
func (r *Registry) SetDefault(name string) error {
	if !r.Has(name) {
		return errors.Wrap(ErrPoolNotFound, name)
	}
	r.mu.Lock()
	r.def = name
	r.mu.Unlock()
	return nil
}

// Close closes and removes the named pool
func (r *Registry) Close(name string) error {
	p, ok := r.pools.LoadAndDelete(name)
	if !ok {
		return errors.Wrap(ErrPoolNotFound, name)
	}
	r.mu.Lock()
	if r.def == name {
		r.def = ""
	}
	r.mu.Unlock()
	return p.Close()
}

// CloseAll closes and removes every pool. It returns the first error.
func (r *Registry) CloseAll() error {
	var first error
	for _, name := range r.Names() {
		if err := r.Close(name); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Info returns the summary line of the named pool
func (r *Registry) Info(name string) (string, error) {
	p, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return p.Info(), nil
}
