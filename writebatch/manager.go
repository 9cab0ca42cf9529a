// Package writebatch implements a write-behind change manager: callers
// register modified entities, and the manager hands them to an update sink
// in batches, either as soon as BatchSize entities are pending or on a fixed
// interval.
package writebatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mevdschee/tqorm/metrics"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Manager batches dirty entities for an update sink
type Manager[T Entity] struct {
	config Config
	sink   UpdateFunc[T]

	mu      sync.Mutex // guards pending and order
	pending map[T]struct{}
	order   []T

	flushMu sync.Mutex // held for the whole snapshot-and-sink sequence

	state atomic.Int32
	stop  chan struct{}
	done  chan struct{}
}

// New creates a change manager and starts its flush scheduler.
func New[T Entity](sink UpdateFunc[T], config Config) (*Manager[T], error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	m := &Manager[T]{
		config:  config,
		sink:    sink,
		pending: make(map[T]struct{}, config.BatchSize),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	m.state.Store(int32(Created))

	go m.schedule(config.flushInterval())
	m.state.Store(int32(Running))

	log.WithFields(log.Fields{
		"manager":    config.Name,
		"batchSize":  config.BatchSize,
		"intervalMs": config.FlushIntervalMs,
	}).Debug("change manager started")

	return m, nil
}

// Name returns the manager name used in logs and metrics.
func (m *Manager[T]) Name() string {
	return m.config.Name
}

// Config returns the effective configuration.
func (m *Manager[T]) Config() Config {
	return m.config
}

// State returns the lifecycle state.
func (m *Manager[T]) State() State {
	return State(m.state.Load())
}

// RegisterDirty adds a dirty entity to the pending set. Clean entities and
// entities that are already pending are ignored. When the pending set reaches
// BatchSize the batch is flushed on the calling goroutine and the flush error,
// if any, is returned.
func (m *Manager[T]) RegisterDirty(ctx context.Context, entity T) error {
	if !entity.IsDirty() {
		return nil
	}
	if s := m.State(); s == Stopped {
		log.WithField("manager", m.config.Name).Debug("RegisterDirty after shutdown")
	}

	m.mu.Lock()
	if _, ok := m.pending[entity]; !ok {
		m.pending[entity] = struct{}{}
		m.order = append(m.order, entity)
	}
	size := len(m.order)
	m.recordPending(size)
	m.mu.Unlock()

	if size >= m.config.BatchSize {
		return m.flush(ctx, triggerSize)
	}
	return nil
}

// Flush hands every pending entity to the update sink. It is a no-op when
// nothing is pending. On success the entities are cleaned; on failure they
// stay dirty, are not re-queued, and a *FlushError is returned.
func (m *Manager[T]) Flush(ctx context.Context) error {
	return m.flush(ctx, triggerManual)
}

// DirtyCount returns the number of pending entities. The value may be stale
// by the time it is used.
func (m *Manager[T]) DirtyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Shutdown stops the scheduler, flushes what is pending and waits up to
// ShutdownGraceMs for the scheduler goroutine to exit. It returns the error of
// the final flush. Calling Shutdown again only flushes.
func (m *Manager[T]) Shutdown(ctx context.Context) error {
	if !m.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		return m.flush(ctx, triggerShutdown)
	}
	logger := log.WithField("manager", m.config.Name)

	close(m.stop)
	err := m.flush(ctx, triggerShutdown)

	select {
	case <-m.done:
	case <-time.After(m.config.shutdownGrace()):
		logger.WithField("graceMs", m.config.ShutdownGraceMs).Warn("scheduler did not stop within grace period")
	}

	// flushMu keeps a concurrent flush from recording after the series are gone
	m.flushMu.Lock()
	m.mu.Lock()
	m.state.Store(int32(Stopped))
	metrics.ForgetManager(m.config.Name)
	m.mu.Unlock()
	m.flushMu.Unlock()

	if err != nil {
		logger.WithError(err).Warn("final flush failed")
	} else {
		logger.Debug("change manager stopped")
	}
	return err
}

// drain takes the pending entities and leaves an empty set behind.
func (m *Manager[T]) drain() []T {
	m.mu.Lock()
	defer m.mu.Unlock()
	batch := m.order
	m.order = nil
	clear(m.pending)
	m.recordPending(0)
	return batch
}

// recordPending sets the pending gauge. Callers hold mu so the gauge follows
// the order of changes to the pending set. Stopped managers record nothing.
func (m *Manager[T]) recordPending(size int) {
	if m.State() == Stopped {
		return
	}
	metrics.PendingEntities.WithLabelValues(m.config.Name).Set(float64(size))
}

func (m *Manager[T]) flush(ctx context.Context, trigger string) error {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	batch := m.drain()
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	err := m.invoke(ctx, batch)
	m.recordFlush(trigger, len(batch), time.Since(start), err)

	if err != nil {
		return &FlushError{Manager: m.config.Name, Batch: len(batch), Err: err}
	}

	for _, e := range batch {
		e.CleanDirty()
	}
	return nil
}

// recordFlush updates the flush metrics. Callers hold flushMu.
func (m *Manager[T]) recordFlush(trigger string, size int, took time.Duration, err error) {
	if m.State() == Stopped {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	metrics.FlushLatency.WithLabelValues(m.config.Name).Observe(took.Seconds())
	metrics.FlushBatchSize.WithLabelValues(m.config.Name).Observe(float64(size))
	metrics.FlushTotal.WithLabelValues(m.config.Name, trigger, result).Inc()
}

// invoke calls the sink and turns a panic into an error.
func (m *Manager[T]) invoke(ctx context.Context, batch []T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrSinkPanic, "%v", r)
		}
	}()
	return m.sink(ctx, batch)
}
