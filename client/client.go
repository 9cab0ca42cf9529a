// Package client binds a connection pool, dialect aware statement builders,
// named caches and change managers into one handle.
package client

import (
	"context"
	"database/sql"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/mevdschee/tqorm/builder"
	"github.com/mevdschee/tqorm/cache"
	"github.com/mevdschee/tqorm/config"
	"github.com/mevdschee/tqorm/parser"
	"github.com/mevdschee/tqorm/pool"
	"github.com/mevdschee/tqorm/writebatch"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrClosed is returned when a closed client is used
	ErrClosed = errors.New("client is closed")
	// ErrReadOnly is returned for writes on a database configured read_only
	ErrReadOnly = errors.New("database is read-only")
)

type options struct {
	registry   *pool.Registry
	caches     *cache.Manager
	autoCreate bool
	dialect    *builder.Dialect
}

// Option configures New
type Option func(*options)

// WithRegistry registers the pool in r instead of a private registry.
func WithRegistry(r *pool.Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithCacheManager shares a cache manager between clients. A shared manager
// is not closed by Close.
func WithCacheManager(m *cache.Manager) Option {
	return func(o *options) { o.caches = m }
}

// WithAutoCreateDatabase creates the database before connecting.
func WithAutoCreateDatabase() Option {
	return func(o *options) { o.autoCreate = true }
}

// WithDialect overrides the dialect detected from the driver.
func WithDialect(d builder.Dialect) Option {
	return func(o *options) { o.dialect = &d }
}

type shutdowner interface {
	Name() string
	Shutdown(ctx context.Context) error
}

// Client is the entry point for one configured database
type Client struct {
	name       string
	pool       *pool.Pool
	registry   *pool.Registry
	caches     *cache.Manager
	ownsCaches bool
	dialect    builder.Dialect

	mu       sync.Mutex // guards managers
	managers []shutdowner
	closed   atomic.Bool
}

// New opens the pool for cfg under name.
func New(ctx context.Context, name string, cfg config.Database, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" {
		name = config.DefaultDatabaseName
	}

	if o.autoCreate || cfg.AutoCreate {
		if err := pool.EnsureDatabase(ctx, cfg); err != nil {
			return nil, errors.WithMessagef(err, "client %s: ensure database", name)
		}
	}

	if o.registry == nil {
		o.registry = pool.NewRegistry()
	}
	p, err := o.registry.Open(ctx, name, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "client %s", name)
	}

	c := &Client{
		name:     name,
		pool:     p,
		registry: o.registry,
		caches:   o.caches,
		dialect:  builder.DialectFor(p.Driver()),
	}
	if o.dialect != nil {
		c.dialect = *o.dialect
	}
	if c.caches == nil {
		c.caches = cache.NewManager(cache.DefaultSweepInterval)
		c.ownsCaches = true
	}

	log.WithFields(log.Fields{"client": name, "dialect": c.dialect}).Debug("client initialized")
	return c, nil
}

// Name returns the client name
func (c *Client) Name() string {
	return c.name
}

// Dialect returns the dialect used by the builder methods
func (c *Client) Dialect() builder.Dialect {
	return c.dialect
}

// DB returns the primary database
func (c *Client) DB() *sql.DB {
	return c.pool.Primary()
}

// Pool returns the connection pool
func (c *Client) Pool() *pool.Pool {
	return c.pool
}

// Caches returns the cache manager
func (c *Client) Caches() *cache.Manager {
	return c.caches
}

// PoolInfo returns the pool summary line
func (c *Client) PoolInfo() string {
	return c.pool.Info()
}

func (c *Client) Select(columns ...string) *builder.SelectBuilder {
	return c.dialect.Select(columns...)
}

func (c *Client) InsertInto(table string) *builder.InsertBuilder {
	return c.dialect.InsertInto(table)
}

func (c *Client) Update(table string) *builder.UpdateBuilder {
	return c.dialect.Update(table)
}

func (c *Client) DeleteFrom(table string) *builder.DeleteBuilder {
	return c.dialect.DeleteFrom(table)
}

func (c *Client) CreateTable(table string) *builder.CreateTableBuilder {
	return c.dialect.CreateTable(table)
}

// Exec builds b and runs it on the primary.
func (c *Client) Exec(ctx context.Context, b builder.Builder) (sql.Result, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stmt, err := b.Build()
	if err != nil {
		return nil, err
	}
	if c.pool.Config().ReadOnly && parser.Parse(stmt.SQL).Type != parser.QuerySelect {
		return nil, errors.Wrapf(ErrReadOnly, "client %s", c.name)
	}
	return stmt.Exec(ctx, c.pool.Primary())
}

// Query builds b and runs it on a healthy replica, or the primary.
func (c *Client) Query(ctx context.Context, b builder.Builder) (*sql.Rows, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stmt, err := b.Build()
	if err != nil {
		return nil, err
	}
	db, _ := c.pool.Replica()
	return stmt.Query(ctx, db)
}

// QueryRow builds b and runs it on the primary, so it reads its own writes.
func (c *Client) QueryRow(ctx context.Context, b builder.Builder) (*sql.Row, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	stmt, err := b.Build()
	if err != nil {
		return nil, err
	}
	return stmt.QueryRow(ctx, c.pool.Primary()), nil
}

// NewChangeManager creates a change manager that Close shuts down.
func NewChangeManager[T writebatch.Entity](c *Client, sink writebatch.UpdateFunc[T], cfg writebatch.Config) (*writebatch.Manager[T], error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Name == "" {
		cfg.Name = c.name + "-" + strconv.Itoa(len(c.managers)+1)
	}
	m, err := writebatch.New(sink, cfg)
	if err != nil {
		return nil, err
	}
	c.managers = append(c.managers, m)
	return m, nil
}

// NewSQLChangeManager creates a change manager that writes each batch to the
// primary in one transaction.
func NewSQLChangeManager[T writebatch.Entity](c *Client, build writebatch.StatementFunc[T], cfg writebatch.Config) (*writebatch.Manager[T], error) {
	if c.pool.Config().ReadOnly {
		return nil, errors.Wrapf(ErrReadOnly, "client %s", c.name)
	}
	return NewChangeManager(c, writebatch.SQLSink(c.DB(), build), cfg)
}

// WriteBatchConfig converts the [writebatch] section into a manager config.
func WriteBatchConfig(cfg config.WriteBatchConfig) writebatch.Config {
	return writebatch.Config{
		BatchSize:       cfg.BatchSize,
		FlushIntervalMs: cfg.FlushIntervalMs,
		ShutdownGraceMs: cfg.ShutdownGraceMs,
	}
}

// Close shuts down every change manager (flushing what is pending), then
// the caches and the pool. It returns the first error.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	var first error

	c.mu.Lock()
	managers := c.managers
	c.managers = nil
	c.mu.Unlock()

	for _, m := range managers {
		if err := m.Shutdown(context.Background()); err != nil {
			log.WithError(err).WithField("manager", m.Name()).Error("change manager shutdown failed")
			if first == nil {
				first = err
			}
		}
	}

	if c.ownsCaches {
		c.caches.Close()
	}

	if err := c.registry.Close(c.name); err != nil && !errors.Is(err, pool.ErrPoolNotFound) && first == nil {
		first = err
	}
	return first
}
