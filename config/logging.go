package config

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of application log events.
type LogConfig struct {
	Level  string // trace, debug, info, warn, error or fatal
	Format string // text, json or color
}

// InitLog configures the logger.
func InitLog(cfg LogConfig) error {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return errors.Wrapf(ErrInvalidConfig, "unrecognized log format %q", cfg.Format)
	}

	if cfg.Level == "" {
		cfg.Level = "info"
	}
	lvl, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return errors.Wrapf(ErrInvalidConfig, "unrecognized log level %q", cfg.Level)
	}
	log.SetLevel(lvl)
	return nil
}
