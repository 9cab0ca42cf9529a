package pool

import "github.com/pkg/errors"

var (
	// ErrPoolNotFound is returned when no pool is registered under a name
	ErrPoolNotFound = errors.New("connection pool not found")

	// ErrPoolClosed is returned when a closed pool is used
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrUnknownDriver is returned for drivers without database management support
	ErrUnknownDriver = errors.New("unknown database driver")
)
