package writebatch

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrNilSink is returned by New when no update function is given
	ErrNilSink = errors.New("update sink must not be nil")

	// ErrInvalidConfig is returned by New for an out of range configuration
	ErrInvalidConfig = errors.New("invalid write batch configuration")

	// ErrSinkPanic is the cause of a FlushError when the update sink panicked
	ErrSinkPanic = errors.New("update sink panicked")
)

// FlushError is returned when the update sink rejected a batch. The entities
// of that batch are still dirty and no longer pending.
type FlushError struct {
	Manager string
	Batch   int // number of entities handed to the sink
	Err     error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("writebatch %s: flush of %d entities failed: %v", e.Manager, e.Batch, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// Cause supports errors.Cause.
func (e *FlushError) Cause() error { return e.Err }
