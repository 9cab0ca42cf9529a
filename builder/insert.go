package builder

import (
	"strings"

	"github.com/pkg/errors"
)

// InsertBuilder constructs single-row and multi-row INSERT statements.
type InsertBuilder struct {
	dialect   Dialect
	table     string
	columns   []string // single row, in first-set order
	values    []any
	batchCols []string
	rows      [][]any
	returning []string
	err       error
}

// InsertInto starts a MySQL INSERT statement.
func InsertInto(table string) *InsertBuilder {
	return MySQL.InsertInto(table)
}

// InsertInto starts an INSERT statement in dialect d.
func (d Dialect) InsertInto(table string) *InsertBuilder {
	b := &InsertBuilder{dialect: d}
	if table = strings.TrimSpace(table); table == "" {
		return b.fail(errors.Wrap(ErrEmptyTable, "insert"))
	}
	b.table = table
	return b
}

func (b *InsertBuilder) fail(err error) *InsertBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Value sets a column of the single row. Setting a column twice keeps its
// position and replaces the value.
func (b *InsertBuilder) Value(column string, value any) *InsertBuilder {
	if column = strings.TrimSpace(column); column == "" {
		return b.fail(errors.Wrap(ErrEmptyColumn, "insert value"))
	}
	for i, c := range b.columns {
		if c == column {
			b.values[i] = value
			return b
		}
	}
	b.columns = append(b.columns, column)
	b.values = append(b.values, value)
	return b
}

// Columns sets the column list used by Row. It replaces earlier columns.
func (b *InsertBuilder) Columns(columns ...string) *InsertBuilder {
	cols := nonEmpty(columns)
	if len(cols) == 0 {
		return b.fail(errors.Wrap(ErrNoColumns, "insert columns"))
	}
	b.batchCols = cols
	return b
}

// Row appends one row of a multi-row insert. Values follow the Columns order.
func (b *InsertBuilder) Row(values ...any) *InsertBuilder {
	if len(b.batchCols) == 0 {
		return b.fail(errors.Wrap(ErrNoColumns, "insert row: call Columns first"))
	}
	if len(values) != len(b.batchCols) {
		return b.fail(errors.Wrapf(ErrColumnCount, "insert row: got %d values for %d columns", len(values), len(b.batchCols)))
	}
	b.rows = append(b.rows, append([]any(nil), values...))
	return b
}

// Returning adds a RETURNING clause. MySQL does not support it.
func (b *InsertBuilder) Returning(columns ...string) *InsertBuilder {
	if b.dialect == MySQL {
		return b.fail(errors.Wrap(ErrUnsupported, "insert returning on mysql"))
	}
	b.returning = append(b.returning, nonEmpty(columns)...)
	return b
}

// Build renders the statement. Rows added with Row take precedence over
// values set with Value.
func (b *InsertBuilder) Build() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.table == "" {
		return Statement{}, errors.Wrap(ErrEmptyTable, "insert")
	}

	var sb strings.Builder
	var args []any
	ph := &placeholders{dialect: b.dialect}

	sb.WriteString("INSERT INTO ")
	sb.WriteString(b.table)
	sb.WriteString(" (")

	switch {
	case len(b.rows) > 0:
		sb.WriteString(strings.Join(b.batchCols, ", "))
		sb.WriteString(") VALUES ")
		for i, row := range b.rows {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString("(")
			sb.WriteString(ph.list(len(row)))
			sb.WriteString(")")
			args = append(args, row...)
		}
	case len(b.columns) > 0:
		sb.WriteString(strings.Join(b.columns, ", "))
		sb.WriteString(") VALUES (")
		sb.WriteString(ph.list(len(b.values)))
		sb.WriteString(")")
		args = append(args, b.values...)
	default:
		return Statement{}, errors.Wrapf(ErrNoValues, "insert into %s", b.table)
	}

	if len(b.returning) > 0 {
		sb.WriteString(" RETURNING ")
		sb.WriteString(strings.Join(b.returning, ", "))
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}
