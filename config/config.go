package config

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// DefaultDatabaseName is the name of the [database] section.
const DefaultDatabaseName = "default"

const envPrefix = "TQORM_"

// Config holds the toolkit configuration
type Config struct {
	Databases  map[string]Database
	WriteBatch WriteBatchConfig
	Cache      CacheConfig
	Log        LogConfig
	Metrics    MetricsConfig
}

// WriteBatchConfig holds the change manager defaults
type WriteBatchConfig struct {
	BatchSize       int
	FlushIntervalMs int
	ShutdownGraceMs int
}

// CacheConfig holds memory cache settings
type CacheConfig struct {
	SweepIntervalMs int
}

// MetricsConfig holds the metrics endpoint settings
type MetricsConfig struct {
	Listen string
}

// Database returns the named database configuration.
func (c *Config) Database(name string) (Database, bool) {
	d, ok := c.Databases[name]
	return d, ok
}

// DatabaseNames returns the configured database names in sorted order.
func (c *Config) DatabaseNames() []string {
	names := make([]string, 0, len(c.Databases))
	for n := range c.Databases {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Load reads configuration from an INI file with environment variable
// overrides. An empty path loads the defaults, still applying the
// environment.
func Load(path string) (*Config, error) {
	var (
		cfg *ini.File
		err error
	)
	if path == "" {
		cfg = ini.Empty()
	} else if cfg, err = ini.Load(path); err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}

	config := &Config{
		Databases: make(map[string]Database),
		WriteBatch: WriteBatchConfig{
			BatchSize:       cfg.Section("writebatch").Key("batch_size").MustInt(3),
			FlushIntervalMs: cfg.Section("writebatch").Key("flush_interval_ms").MustInt(5000),
			ShutdownGraceMs: cfg.Section("writebatch").Key("shutdown_grace_ms").MustInt(5000),
		},
		Cache: CacheConfig{
			SweepIntervalMs: cfg.Section("cache").Key("sweep_interval_ms").MustInt(60000),
		},
		Log: LogConfig{
			Level:  cfg.Section("log").Key("level").MustString("info"),
			Format: cfg.Section("log").Key("format").MustString("text"),
		},
		Metrics: MetricsConfig{
			Listen: cfg.Section("metrics").Key("listen").MustString(":9090"),
		},
	}

	for _, name := range cfg.SectionStrings() {
		switch {
		case name == "database":
			config.Databases[DefaultDatabaseName] = loadDatabase(cfg.Section(name), DefaultDatabaseName)
		case strings.HasPrefix(name, "database."):
			dbName := strings.TrimPrefix(name, "database.")
			config.Databases[dbName] = loadDatabase(cfg.Section(name), dbName)
		}
	}

	// Environment variable overrides
	if v := os.Getenv(envPrefix + "DATABASE_DSN"); v != "" {
		d, ok := config.Databases[DefaultDatabaseName]
		if !ok {
			d = DefaultDatabase()
			d.Name = DefaultDatabaseName
		}
		d.DSN = v
		config.Databases[DefaultDatabaseName] = d
	}
	for name, d := range config.Databases {
		config.Databases[name] = applyDatabaseEnv(d)
	}
	envInt(&config.WriteBatch.BatchSize, "WRITEBATCH_BATCH_SIZE")
	envInt(&config.WriteBatch.FlushIntervalMs, "WRITEBATCH_FLUSH_INTERVAL_MS")
	envInt(&config.WriteBatch.ShutdownGraceMs, "WRITEBATCH_SHUTDOWN_GRACE_MS")
	envInt(&config.Cache.SweepIntervalMs, "CACHE_SWEEP_INTERVAL_MS")
	envString(&config.Log.Level, "LOG_LEVEL")
	envString(&config.Log.Format, "LOG_FORMAT")
	envString(&config.Metrics.Listen, "METRICS_LISTEN")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	for _, name := range c.DatabaseNames() {
		if err := c.Databases[name].Validate(); err != nil {
			return errors.WithMessagef(err, "database %s", name)
		}
	}
	if c.WriteBatch.BatchSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "writebatch batch_size must be at least 1, got %d", c.WriteBatch.BatchSize)
	}
	if c.WriteBatch.FlushIntervalMs <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "writebatch flush_interval_ms must be positive, got %d", c.WriteBatch.FlushIntervalMs)
	}
	if c.Cache.SweepIntervalMs <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "cache sweep_interval_ms must be positive, got %d", c.Cache.SweepIntervalMs)
	}
	return nil
}

func loadDatabase(sec *ini.Section, name string) Database {
	d := DefaultDatabase()
	d.Name = name
	d.DSN = sec.Key("dsn").String()
	d.Driver = sec.Key("driver").String()
	d.MaxOpenConns = sec.Key("max_open_conns").MustInt(d.MaxOpenConns)
	d.MaxIdleConns = sec.Key("max_idle_conns").MustInt(d.MaxIdleConns)
	d.ConnectionTimeoutMs = sec.Key("connection_timeout_ms").MustInt(d.ConnectionTimeoutMs)
	d.IdleTimeoutMs = sec.Key("idle_timeout_ms").MustInt(d.IdleTimeoutMs)
	d.MaxLifetimeMs = sec.Key("max_lifetime_ms").MustInt(d.MaxLifetimeMs)
	d.LeakDetectionThresholdMs = sec.Key("leak_detection_threshold_ms").MustInt(d.LeakDetectionThresholdMs)
	d.ValidationTimeoutMs = sec.Key("validation_timeout_ms").MustInt(d.ValidationTimeoutMs)
	d.ConnectionTestQuery = sec.Key("connection_test_query").String()
	d.PoolName = sec.Key("pool_name").MustString(d.PoolName)
	d.ReadOnly = sec.Key("read_only").MustBool(false)
	d.AutoCreate = sec.Key("auto_create").MustBool(false)

	// Parse replicas (replica1, replica2, etc.)
	for i := 1; i <= 10; i++ { // Support up to 10 replicas
		if replica := sec.Key("replica" + strconv.Itoa(i)).String(); replica != "" {
			d.Replicas = append(d.Replicas, replica)
		}
	}
	return d
}

// applyDatabaseEnv applies TQORM_DATABASE_<NAME>_* overrides.
func applyDatabaseEnv(d Database) Database {
	prefix := "DATABASE_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(d.Name)) + "_"
	envString(&d.DSN, prefix+"DSN")
	envString(&d.Driver, prefix+"DRIVER")
	envInt(&d.MaxOpenConns, prefix+"MAX_OPEN_CONNS")
	envInt(&d.MaxIdleConns, prefix+"MAX_IDLE_CONNS")
	envInt(&d.LeakDetectionThresholdMs, prefix+"LEAK_DETECTION_THRESHOLD_MS")
	return d
}

func envString(dst *string, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v := os.Getenv(envPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
