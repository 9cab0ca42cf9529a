// Package pool wraps database/sql connection pools: a primary with optional
// read replicas, health checks, leak detection and a registry of named pools.
package pool

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	// database/sql drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mevdschee/tqorm/config"
	"github.com/mevdschee/tqorm/metrics"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type replica struct {
	name    string
	db      *sql.DB
	healthy bool
}

// Pool manages a primary database and multiple read replicas
type Pool struct {
	name     string
	config   config.Database
	driver   string
	primary  *sql.DB
	replicas []*replica
	current  int // round-robin index
	mu       sync.RWMutex

	pending atomic.Int64 // Acquire calls waiting for a connection
	leaks   atomic.Int64
	closed  atomic.Bool
}

// Open creates the primary and replica pools and verifies that each of them
// accepts connections.
func Open(ctx context.Context, name string, cfg config.Database) (*Pool, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "pool %s", name)
	}
	if name == "" {
		name = cfg.PoolName
	}
	driver := cfg.DriverName()

	primary, err := openDB(ctx, driver, cfg.DSN, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "pool %s: primary", name)
	}

	p := &Pool{
		name:    name,
		config:  cfg,
		driver:  driver,
		primary: primary,
	}
	for i, dsn := range cfg.Replicas {
		db, err := openDB(ctx, driver, dsn, cfg)
		if err != nil {
			p.Close()
			return nil, errors.WithMessagef(err, "pool %s: replica%d", name, i+1)
		}
		p.replicas = append(p.replicas, &replica{
			name:    "replica" + strconv.Itoa(i+1),
			db:      db,
			healthy: true,
		})
	}

	log.WithFields(log.Fields{
		"pool":     name,
		"driver":   driver,
		"replicas": len(p.replicas),
		"dsn":      config.RedactDSN(cfg.DSN),
	}).Info("connection pool opened")
	p.updateMetrics()
	return p, nil
}

func openDB(ctx context.Context, driver, dsn string, cfg config.Database) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MaxLifetime())
	db.SetConnMaxIdleTime(cfg.IdleTimeout())

	if err := ping(ctx, db, cfg.ConnectionTimeout(), cfg.ConnectionTestQuery); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// ping checks connectivity with fibonacci backoff, bounded by timeout.
func ping(ctx context.Context, db *sql.DB, timeout time.Duration, testQuery string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	b := retry.WithMaxRetries(5, retry.NewFibonacci(100*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			log.WithError(err).Debug("ping failed, retrying")
			return retry.RetryableError(err)
		}
		if testQuery != "" {
			if _, err := db.ExecContext(ctx, testQuery); err != nil {
				return errors.Wrap(err, "connection test query")
			}
		}
		return nil
	})
	return errors.Wrap(err, "ping")
}

// Name returns the pool name
func (p *Pool) Name() string {
	return p.name
}

// Driver returns the database/sql driver name
func (p *Pool) Driver() string {
	return p.driver
}

// Config returns the configuration the pool was opened with
func (p *Pool) Config() config.Database {
	return p.config
}

// Primary returns the primary database
func (p *Pool) Primary() *sql.DB {
	return p.primary
}

// Replica returns the next healthy replica using round-robin,
// or the primary if no replicas are healthy. It returns (db, name).
func (p *Pool) Replica() (*sql.DB, string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.replicas) == 0 {
		return p.primary, "primary"
	}

	// Try to find a healthy replica
	for attempts := 0; attempts < len(p.replicas); attempts++ {
		r := p.replicas[p.current]
		p.current = (p.current + 1) % len(p.replicas)
		if r.healthy {
			return r.db, r.name
		}
	}

	// No healthy replicas, fall back to primary
	log.WithField("pool", p.name).Warn("no healthy replicas available, using primary")
	return p.primary, "primary"
}

// MarkUnhealthy marks a replica as unhealthy
func (p *Pool) MarkUnhealthy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r := p.find(name); r != nil && r.healthy {
		r.healthy = false
		log.WithFields(log.Fields{"pool": p.name, "replica": name}).Warn("replica marked unhealthy")
	}
}

// MarkHealthy marks a replica as healthy
func (p *Pool) MarkHealthy(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if r := p.find(name); r != nil && !r.healthy {
		r.healthy = true
		log.WithFields(log.Fields{"pool": p.name, "replica": name}).Info("replica marked healthy")
	}
}

// IsHealthy returns whether a replica is healthy
func (p *Pool) IsHealthy(name string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r := p.find(name)
	return r != nil && r.healthy
}

// HealthyCount returns the number of healthy replicas
func (p *Pool) HealthyCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	count := 0
	for _, r := range p.replicas {
		if r.healthy {
			count++
		}
	}
	return count
}

// ReplicaNames returns the replica names in configuration order
func (p *Pool) ReplicaNames() []string {
	names := make([]string, len(p.replicas))
	for i, r := range p.replicas {
		names[i] = r.name
	}
	return names
}

// find must be called with mu held.
func (p *Pool) find(name string) *replica {
	for _, r := range p.replicas {
		if r.name == name {
			return r
		}
	}
	return nil
}

// StartHealthChecks runs periodic health checks for all replicas and updates
// the pool gauges until ctx is cancelled.
func (p *Pool) StartHealthChecks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run initial health check immediately
	p.CheckReplicas(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CheckReplicas(ctx)
		}
	}
}

// CheckReplicas pings every replica concurrently and waits for the results.
func (p *Pool) CheckReplicas(ctx context.Context) {
	if p.closed.Load() {
		return
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, r := range p.replicas {
		r := r
		g.Go(func() error {
			p.checkReplica(ctx, r)
			return nil
		})
	}
	g.Wait()
	p.updateMetrics()
}

func (p *Pool) checkReplica(ctx context.Context, r *replica) {
	timeout := p.config.ValidationTimeout()
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		p.MarkUnhealthy(r.name)
		return
	}
	p.MarkHealthy(r.name)
}

// Stats returns the primary's database/sql statistics
func (p *Pool) Stats() sql.DBStats {
	return p.primary.Stats()
}

// Leaks returns how many acquired connections outlived the leak threshold
func (p *Pool) Leaks() int64 {
	return p.leaks.Load()
}

// Info returns a one line summary of the primary pool
func (p *Pool) Info() string {
	s := p.Stats()
	return fmt.Sprintf("Pool[%s] - Active: %d, Idle: %d, Total: %d, Pending: %d",
		p.name, s.InUse, s.Idle, s.OpenConnections, p.pending.Load())
}

func (p *Pool) updateMetrics() {
	s := p.Stats()
	metrics.PoolConnections.WithLabelValues(p.name, "active").Set(float64(s.InUse))
	metrics.PoolConnections.WithLabelValues(p.name, "idle").Set(float64(s.Idle))
	metrics.PoolConnections.WithLabelValues(p.name, "total").Set(float64(s.OpenConnections))
	metrics.PoolConnections.WithLabelValues(p.name, "pending").Set(float64(p.pending.Load()))
}

// Closed reports whether Close was called
func (p *Pool) Closed() bool {
	return p.closed.Load()
}

// Close closes the replicas and the primary. It returns the first error.
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	var first error
	for _, r := range p.replicas {
		if err := r.db.Close(); err != nil && first == nil {
			first = errors.Wrapf(err, "close %s", r.name)
		}
	}
	if err := p.primary.Close(); err != nil && first == nil {
		first = errors.Wrap(err, "close primary")
	}
	log.WithField("pool", p.name).Info("connection pool closed")
	return first
}
