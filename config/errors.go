package config

import "github.com/pkg/errors"

// ErrInvalidConfig is returned when a configuration value is missing or out of range
var ErrInvalidConfig = errors.New("invalid configuration")
