// Package builder assembles parameterized SQL statements (SELECT, INSERT,
// UPDATE, DELETE and CREATE TABLE) for database/sql.
//
// Builders are fluent and not safe for concurrent use. The first invalid
// argument (an empty table or column name, a negative limit, ...) is kept and
// returned by Build, so call chains never need intermediate error checks:
//
//	stmt, err := builder.Postgres.Select("id", "name").
//		From("users").
//		Where("age", ">", 18).
//		OrderBy("id", builder.Desc).
//		Limit(10).
//		Build()
//
// Values are always bound as arguments. Table and column names are written
// verbatim and must never come from untrusted input.
package builder

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/mevdschee/tqorm/metrics"
	"github.com/mevdschee/tqorm/parser"
	log "github.com/sirupsen/logrus"
)

// Dialect selects placeholder style and dialect specific clauses.
type Dialect int

const (
	// MySQL uses ? placeholders and supports table options and DELETE ... LIMIT.
	MySQL Dialect = iota
	// Postgres uses $1, $2, ... placeholders.
	Postgres
	// SQLite uses ? placeholders.
	SQLite
)

func (d Dialect) String() string {
	switch d {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite3"
	default:
		return "mysql"
	}
}

// DialectFor maps a database/sql driver name to its dialect. Unknown drivers
// get MySQL, matching the package level constructors.
func DialectFor(driver string) Dialect {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "pgx":
		return Postgres
	case "sqlite3", "sqlite":
		return SQLite
	default:
		return MySQL
	}
}

// Statement is a built SQL string with its bound arguments.
type Statement struct {
	SQL  string
	Args []any
}

// Builder is implemented by every statement builder in this package.
type Builder interface {
	Build() (Statement, error)
}

// Execer is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Querier is satisfied by *sql.DB, *sql.Tx and *sql.Conn.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Exec runs the statement and records it in the statement metrics.
func (s Statement) Exec(ctx context.Context, db Execer) (sql.Result, error) {
	s.observe()
	return db.ExecContext(ctx, s.SQL, s.Args...)
}

// Query runs the statement and returns its rows.
func (s Statement) Query(ctx context.Context, db Querier) (*sql.Rows, error) {
	s.observe()
	return db.QueryContext(ctx, s.SQL, s.Args...)
}

// QueryRow runs a statement that is expected to return at most one row.
func (s Statement) QueryRow(ctx context.Context, db Querier) *sql.Row {
	s.observe()
	return db.QueryRowContext(ctx, s.SQL, s.Args...)
}

func (s Statement) String() string {
	return fmt.Sprintf("SQL: %s\nArgs: %v", s.SQL, s.Args)
}

func (s Statement) observe() {
	p := parser.Parse(s.SQL)
	metrics.StatementsTotal.WithLabelValues(p.Type.String(), p.Label()).Inc()
	log.WithFields(log.Fields{"sql": s.SQL, "args": len(s.Args)}).Debug("executing statement")
}

// placeholders hands out bind markers in the dialect's style.
type placeholders struct {
	dialect Dialect
	n       int
}

func (p *placeholders) next() string {
	p.n++
	if p.dialect == Postgres {
		return "$" + strconv.Itoa(p.n)
	}
	return "?"
}

func (p *placeholders) list(n int) string {
	marks := make([]string, n)
	for i := range marks {
		marks[i] = p.next()
	}
	return strings.Join(marks, ", ")
}

// nonEmpty returns the trimmed, non-empty names of in.
func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
