package builder

import (
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DeleteBuilder constructs DELETE statements.
type DeleteBuilder struct {
	dialect  Dialect
	table    string
	where    whereClause
	limit    int
	hasLimit bool
	err      error
}

// DeleteFrom starts a MySQL DELETE statement.
func DeleteFrom(table string) *DeleteBuilder {
	return MySQL.DeleteFrom(table)
}

// DeleteFrom starts a DELETE statement in dialect d.
func (d Dialect) DeleteFrom(table string) *DeleteBuilder {
	b := &DeleteBuilder{dialect: d}
	if table = strings.TrimSpace(table); table == "" {
		return b.fail(errors.Wrap(ErrEmptyTable, "delete"))
	}
	b.table = table
	return b
}

func (b *DeleteBuilder) fail(err error) *DeleteBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Where adds a condition joined with AND.
func (b *DeleteBuilder) Where(column, operator string, value any) *DeleteBuilder {
	if err := b.where.add(column, operator, value, And); err != nil {
		return b.fail(err)
	}
	return b
}

// WhereEquals adds column = value joined with AND.
func (b *DeleteBuilder) WhereEquals(column string, value any) *DeleteBuilder {
	return b.Where(column, "=", value)
}

// OrWhere adds a condition joined with OR.
func (b *DeleteBuilder) OrWhere(column, operator string, value any) *DeleteBuilder {
	if err := b.where.add(column, operator, value, Or); err != nil {
		return b.fail(err)
	}
	return b
}

// OrWhereEquals adds column = value joined with OR.
func (b *DeleteBuilder) OrWhereEquals(column string, value any) *DeleteBuilder {
	return b.OrWhere(column, "=", value)
}

// WhereNull adds column IS NULL joined with AND.
func (b *DeleteBuilder) WhereNull(column string) *DeleteBuilder {
	if err := b.where.addUnary(column, "IS NULL", And); err != nil {
		return b.fail(err)
	}
	return b
}

// Limit caps the number of deleted rows. Only MySQL supports DELETE ... LIMIT.
func (b *DeleteBuilder) Limit(limit int) *DeleteBuilder {
	if b.dialect != MySQL {
		return b.fail(errors.Wrapf(ErrUnsupported, "delete limit on %s", b.dialect))
	}
	if limit < 0 {
		return b.fail(errors.Wrapf(ErrNegativeLimit, "limit %d", limit))
	}
	b.limit = limit
	b.hasLimit = true
	return b
}

// Build renders the statement. A DELETE without conditions is allowed but
// logged, since it removes every row of the table.
func (b *DeleteBuilder) Build() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.table == "" {
		return Statement{}, errors.Wrap(ErrEmptyTable, "delete")
	}
	if b.where.empty() {
		log.WithField("table", b.table).Warn("building DELETE without WHERE clause")
	}

	var sb strings.Builder
	var args []any
	ph := &placeholders{dialect: b.dialect}

	sb.WriteString("DELETE FROM ")
	sb.WriteString(b.table)
	args = b.where.render(&sb, ph, args)
	if b.hasLimit {
		sb.WriteString(" LIMIT ")
		sb.WriteString(ph.next())
		args = append(args, b.limit)
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}
