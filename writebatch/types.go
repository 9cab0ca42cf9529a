package writebatch

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// DirtyTracker is implemented by entities that know whether they were
// modified since they were last persisted.
type DirtyTracker interface {
	IsDirty() bool
	// CleanDirty is idempotent. The manager only calls it after the update
	// sink accepted the batch containing the entity.
	CleanDirty()
}

// Entity constrains the types a Manager can batch. Pointer types give
// identity semantics to the pending set.
type Entity interface {
	comparable
	DirtyTracker
}

// UpdateFunc persists a batch of dirty entities. It is called synchronously,
// at most once at a time per manager, and must either persist the whole batch
// or return an error. It must not call back into the manager that invoked it.
type UpdateFunc[T any] func(ctx context.Context, batch []T) error

// Config holds configuration for the change manager
type Config struct {
	Name            string // metric and log label, generated when empty
	BatchSize       int    // pending size that triggers a flush (3 default)
	FlushIntervalMs int    // delay between scheduled flushes (5000ms default)
	ShutdownGraceMs int    // how long Shutdown waits for the scheduler (5000ms default)
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:       3,
		FlushIntervalMs: 5000,
		ShutdownGraceMs: 5000,
	}
}

// Validate checks the configuration without applying defaults.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.FlushIntervalMs <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "flush interval must be positive, got %dms", c.FlushIntervalMs)
	}
	if c.ShutdownGraceMs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "shutdown grace must not be negative, got %dms", c.ShutdownGraceMs)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "writebatch-" + uuid.NewString()[:8]
	}
	if c.ShutdownGraceMs == 0 {
		c.ShutdownGraceMs = DefaultConfig().ShutdownGraceMs
	}
	return c
}

func (c Config) flushInterval() time.Duration {
	return time.Duration(c.FlushIntervalMs) * time.Millisecond
}

func (c Config) shutdownGrace() time.Duration {
	return time.Duration(c.ShutdownGraceMs) * time.Millisecond
}

// State is the lifecycle state of a Manager.
type State int32

const (
	Created State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// flush triggers, used as metric label
const (
	triggerSize     = "size"
	triggerTimer    = "timer"
	triggerManual   = "manual"
	triggerShutdown = "shutdown"
)
