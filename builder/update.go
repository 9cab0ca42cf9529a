package builder

import (
	"strings"

	"github.com/pkg/errors"
)

type assignment struct {
	column string
	value  any
}

// UpdateBuilder constructs UPDATE statements.
type UpdateBuilder struct {
	dialect Dialect
	table   string
	sets    []assignment
	where   whereClause
	err     error
}

// Update starts a MySQL UPDATE statement.
func Update(table string) *UpdateBuilder {
	return MySQL.Update(table)
}

// Update starts an UPDATE statement in dialect d.
func (d Dialect) Update(table string) *UpdateBuilder {
	b := &UpdateBuilder{dialect: d}
	if table = strings.TrimSpace(table); table == "" {
		return b.fail(errors.Wrap(ErrEmptyTable, "update"))
	}
	b.table = table
	return b
}

func (b *UpdateBuilder) fail(err error) *UpdateBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Set assigns a value to a column. Assignments render in call order; setting
// the same column again replaces its value.
func (b *UpdateBuilder) Set(column string, value any) *UpdateBuilder {
	if column = strings.TrimSpace(column); column == "" {
		return b.fail(errors.Wrap(ErrEmptyColumn, "update set"))
	}
	for i := range b.sets {
		if b.sets[i].column == column {
			b.sets[i].value = value
			return b
		}
	}
	b.sets = append(b.sets, assignment{column: column, value: value})
	return b
}

// Where adds a condition joined with AND.
func (b *UpdateBuilder) Where(column, operator string, value any) *UpdateBuilder {
	if err := b.where.add(column, operator, value, And); err != nil {
		return b.fail(err)
	}
	return b
}

// WhereEquals adds column = value joined with AND.
func (b *UpdateBuilder) WhereEquals(column string, value any) *UpdateBuilder {
	return b.Where(column, "=", value)
}

// OrWhere adds a condition joined with OR.
func (b *UpdateBuilder) OrWhere(column, operator string, value any) *UpdateBuilder {
	if err := b.where.add(column, operator, value, Or); err != nil {
		return b.fail(err)
	}
	return b
}

// OrWhereEquals adds column = value joined with OR.
func (b *UpdateBuilder) OrWhereEquals(column string, value any) *UpdateBuilder {
	return b.OrWhere(column, "=", value)
}

// WhereNull adds column IS NULL joined with AND.
func (b *UpdateBuilder) WhereNull(column string) *UpdateBuilder {
	if err := b.where.addUnary(column, "IS NULL", And); err != nil {
		return b.fail(err)
	}
	return b
}

// Build renders the statement.
func (b *UpdateBuilder) Build() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.table == "" {
		return Statement{}, errors.Wrap(ErrEmptyTable, "update")
	}
	if len(b.sets) == 0 {
		return Statement{}, errors.Wrapf(ErrNoAssignments, "update %s", b.table)
	}

	var sb strings.Builder
	ph := &placeholders{dialect: b.dialect}
	args := make([]any, 0, len(b.sets)+len(b.where.conds))

	sb.WriteString("UPDATE ")
	sb.WriteString(b.table)
	sb.WriteString(" SET ")
	for i, s := range b.sets {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(s.column)
		sb.WriteString(" = ")
		sb.WriteString(ph.next())
		args = append(args, s.value)
	}
	args = b.where.render(&sb, ph, args)

	return Statement{SQL: sb.String(), Args: args}, nil
}
