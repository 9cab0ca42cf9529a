package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Driver names as registered with database/sql.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// Database holds the settings of one connection pool
type Database struct {
	Name     string
	DSN      string
	Driver   string   // detected from DSN when empty
	Replicas []string // read replica DSNs

	MaxOpenConns             int
	MaxIdleConns             int
	ConnectionTimeoutMs      int // bound for the initial ping
	IdleTimeoutMs            int
	MaxLifetimeMs            int
	LeakDetectionThresholdMs int // 0 disables leak detection
	ValidationTimeoutMs      int // bound for health check pings
	ConnectionTestQuery      string

	PoolName   string
	ReadOnly   bool
	AutoCreate bool // create the database on open if it does not exist
}

// DefaultDatabase returns a Database with the default pool settings.
func DefaultDatabase() Database {
	return Database{
		MaxOpenConns:             10,
		MaxIdleConns:             1,
		ConnectionTimeoutMs:      30000,
		IdleTimeoutMs:            600000,
		MaxLifetimeMs:            1800000,
		LeakDetectionThresholdMs: 0,
		ValidationTimeoutMs:      5000,
		PoolName:                 "tqorm-" + uuid.NewString(),
	}
}

// DriverName returns Driver, or the driver detected from the DSN.
func (d Database) DriverName() string {
	if d.Driver != "" {
		return d.Driver
	}
	return DetectDriver(d.DSN)
}

func (d Database) ConnectionTimeout() time.Duration {
	return time.Duration(d.ConnectionTimeoutMs) * time.Millisecond
}

func (d Database) IdleTimeout() time.Duration {
	return time.Duration(d.IdleTimeoutMs) * time.Millisecond
}

func (d Database) MaxLifetime() time.Duration {
	return time.Duration(d.MaxLifetimeMs) * time.Millisecond
}

func (d Database) LeakDetectionThreshold() time.Duration {
	return time.Duration(d.LeakDetectionThresholdMs) * time.Millisecond
}

func (d Database) ValidationTimeout() time.Duration {
	return time.Duration(d.ValidationTimeoutMs) * time.Millisecond
}

// Validate checks the pool settings.
func (d Database) Validate() error {
	if strings.TrimSpace(d.DSN) == "" {
		return errors.Wrap(ErrInvalidConfig, "dsn must not be empty")
	}
	switch d.DriverName() {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unsupported driver %q", d.Driver)
	}
	if d.MaxOpenConns < 1 {
		return errors.Wrapf(ErrInvalidConfig, "max_open_conns must be at least 1, got %d", d.MaxOpenConns)
	}
	if d.MaxIdleConns < 0 || d.MaxIdleConns > d.MaxOpenConns {
		return errors.Wrapf(ErrInvalidConfig, "max_idle_conns must be between 0 and %d, got %d", d.MaxOpenConns, d.MaxIdleConns)
	}
	if d.ConnectionTimeoutMs <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "connection_timeout_ms must be positive, got %d", d.ConnectionTimeoutMs)
	}
	if d.LeakDetectionThresholdMs < 0 {
		return errors.Wrapf(ErrInvalidConfig, "leak_detection_threshold_ms must not be negative, got %d", d.LeakDetectionThresholdMs)
	}
	return nil
}

// String describes the database with the password redacted.
func (d Database) String() string {
	return fmt.Sprintf("%s[%s %s replicas=%d]", d.PoolName, d.DriverName(), RedactDSN(d.DSN), len(d.Replicas))
}

// DetectDriver guesses the database/sql driver from a DSN. Anything that is
// not recognizably Postgres or SQLite is treated as a MySQL DSN.
func DetectDriver(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return DriverPostgres
	case strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return DriverPostgres
	case strings.HasPrefix(lower, "file:"), lower == ":memory:",
		strings.HasSuffix(lower, ".db"), strings.HasSuffix(lower, ".sqlite"), strings.HasSuffix(lower, ".sqlite3"):
		return DriverSQLite
	default:
		return DriverMySQL
	}
}

// RedactDSN hides the password of a URL or MySQL style DSN.
func RedactDSN(dsn string) string {
	switch DetectDriver(dsn) {
	case DriverPostgres:
		if u, err := url.Parse(dsn); err == nil && u.Scheme != "" {
			return u.Redacted()
		}
		return dsn
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil || cfg.Passwd == "" {
			return dsn
		}
		cfg.Passwd = "xxxxx"
		return cfg.FormatDSN()
	default:
		return dsn
	}
}
