package pool

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mevdschee/tqorm/config"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var databaseNameRegex = regexp.MustCompile(`^[A-Za-z0-9_$-]+$`)

// EnsureDatabase creates the database named in the DSN if it does not
// exist. It connects to the server without selecting a database. SQLite
// creates its file on first use, so nothing is done for it.
func EnsureDatabase(ctx context.Context, cfg config.Database) error {
	switch driver := cfg.DriverName(); driver {
	case config.DriverSQLite:
		return nil
	case config.DriverMySQL:
		name, serverDSN, err := mysqlServerDSN(cfg.DSN)
		if err != nil {
			return err
		}
		return withServer(ctx, driver, serverDSN, cfg, func(db *sql.DB) error {
			q := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` CHARACTER SET utf8mb4 COLLATE utf8mb4_unicode_ci", name)
			if _, err := db.ExecContext(ctx, q); err != nil {
				return errors.Wrapf(err, "create database %s", name)
			}
			log.WithField("database", name).Info("database ensured")
			return nil
		})
	case config.DriverPostgres:
		name, serverDSN, err := postgresServerDSN(cfg.DSN)
		if err != nil {
			return err
		}
		return withServer(ctx, driver, serverDSN, cfg, func(db *sql.DB) error {
			var exists bool
			err := db.QueryRowContext(ctx, "SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
			if err != nil {
				return errors.Wrap(err, "lookup pg_database")
			}
			if exists {
				return nil
			}
			if _, err := db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(name)); err != nil {
				return errors.Wrapf(err, "create database %s", name)
			}
			log.WithField("database", name).Info("database created")
			return nil
		})
	default:
		return errors.Wrap(ErrUnknownDriver, driver)
	}
}

// DropDatabase drops the database named in the DSN if it exists.
func DropDatabase(ctx context.Context, cfg config.Database) error {
	var (
		name, serverDSN, q string
		err                error
	)
	switch driver := cfg.DriverName(); driver {
	case config.DriverSQLite:
		return nil
	case config.DriverMySQL:
		name, serverDSN, err = mysqlServerDSN(cfg.DSN)
		q = "DROP DATABASE IF EXISTS `" + name + "`"
	case config.DriverPostgres:
		name, serverDSN, err = postgresServerDSN(cfg.DSN)
		q = "DROP DATABASE IF EXISTS " + pq.QuoteIdentifier(name)
	default:
		return errors.Wrap(ErrUnknownDriver, driver)
	}
	if err != nil {
		return err
	}
	return withServer(ctx, cfg.DriverName(), serverDSN, cfg, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return errors.Wrapf(err, "drop database %s", name)
		}
		log.WithField("database", name).Warn("database dropped")
		return nil
	})
}

func withServer(ctx context.Context, driver, dsn string, cfg config.Database, fn func(*sql.DB) error) error {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return errors.Wrapf(err, "open %s", driver)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	if err := ping(ctx, db, cfg.ConnectionTimeout(), ""); err != nil {
		return err
	}
	return fn(db)
}

// mysqlServerDSN returns the database name of dsn and the same DSN without it.
func mysqlServerDSN(dsn string) (string, string, error) {
	c, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", "", errors.Wrap(err, "parse mysql dsn")
	}
	name := c.DBName
	if err := checkDatabaseName(name); err != nil {
		return "", "", err
	}
	c.DBName = ""
	return name, c.FormatDSN(), nil
}

// postgresServerDSN returns the database name of dsn and a key/value DSN
// that connects to the postgres maintenance database instead.
func postgresServerDSN(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		kv, err := pq.ParseURL(dsn)
		if err != nil {
			return "", "", errors.Wrap(err, "parse postgres url")
		}
		dsn = kv
	}
	opts, err := parseKeyValueDSN(dsn)
	if err != nil {
		return "", "", err
	}
	name := opts["dbname"]
	if err := checkDatabaseName(name); err != nil {
		return "", "", err
	}
	opts["dbname"] = "postgres"
	return name, formatKeyValueDSN(opts), nil
}

func checkDatabaseName(name string) error {
	if !databaseNameRegex.MatchString(name) {
		return errors.Errorf("invalid database name %q", name)
	}
	return nil
}

// parseKeyValueDSN parses key=value pairs where values may be single quoted
// with backslash escapes, as produced by pq.ParseURL.
func parseKeyValueDSN(dsn string) (map[string]string, error) {
	opts := make(map[string]string)
	s := strings.TrimSpace(dsn)
	for s != "" {
		eq := strings.IndexByte(s, '=')
		if eq <= 0 {
			return nil, errors.Errorf("malformed postgres dsn near %q", s)
		}
		key := strings.TrimSpace(s[:eq])
		s = strings.TrimLeft(s[eq+1:], " ")

		var val strings.Builder
		if strings.HasPrefix(s, "'") {
			i := 1
			for ; i < len(s) && s[i] != '\''; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				val.WriteByte(s[i])
			}
			if i >= len(s) {
				return nil, errors.Errorf("unterminated quoted value for %s", key)
			}
			s = s[i+1:]
		} else {
			end := strings.IndexAny(s, " \t")
			if end < 0 {
				end = len(s)
			}
			val.WriteString(s[:end])
			s = s[end:]
		}
		opts[key] = val.String()
		s = strings.TrimSpace(s)
	}
	return opts, nil
}

func formatKeyValueDSN(opts map[string]string) string {
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	esc := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "='" + esc.Replace(opts[k]) + "'"
	}
	return strings.Join(parts, " ")
}
