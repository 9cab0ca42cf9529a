package pool

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Conn is a dedicated connection taken from the primary. It must be
// released with Release.
type Conn struct {
	*sql.Conn
	pool       *Pool
	acquiredAt time.Time
	leakTimer  *time.Timer
	once       sync.Once
}

// Acquire takes a dedicated connection from the primary. With a leak
// detection threshold configured, a warning is logged when the connection is
// held longer than the threshold.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	if p.closed.Load() {
		return nil, errors.Wrap(ErrPoolClosed, p.name)
	}

	p.pending.Add(1)
	sc, err := p.primary.Conn(ctx)
	p.pending.Add(-1)
	if err != nil {
		return nil, errors.Wrapf(err, "pool %s: acquire", p.name)
	}

	c := &Conn{Conn: sc, pool: p, acquiredAt: time.Now()}
	if threshold := p.config.LeakDetectionThreshold(); threshold > 0 {
		c.leakTimer = time.AfterFunc(threshold, func() {
			p.leaks.Add(1)
			log.WithFields(log.Fields{
				"pool":      p.name,
				"threshold": threshold,
				"heldFor":   time.Since(c.acquiredAt).Round(time.Millisecond),
			}).Warn("connection leak detection triggered, connection not released")
		})
	}
	return c, nil
}

// Release returns the connection to the pool. Calling it more than once is
// harmless.
func (c *Conn) Release() error {
	var err error
	c.once.Do(func() {
		if c.leakTimer != nil {
			c.leakTimer.Stop()
		}
		err = c.Conn.Close()
	})
	return err
}

// Close releases the connection.
func (c *Conn) Close() error {
	return c.Release()
}

// HeldFor returns how long the connection has been acquired.
func (c *Conn) HeldFor() time.Duration {
	return time.Since(c.acquiredAt)
}
