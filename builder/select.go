package builder

import (
	"strings"

	"github.com/pkg/errors"
)

// Direction represents ORDER BY direction.
type Direction int

const (
	// Asc represents ascending order.
	Asc Direction = iota
	// Desc represents descending order.
	Desc
)

type join struct {
	kind  string
	table string
	on    string
}

type orderBy struct {
	column string
	dir    Direction
}

// SelectBuilder constructs SELECT statements.
type SelectBuilder struct {
	dialect  Dialect
	columns  []string
	table    string
	joins    []join
	where    whereClause
	groupBy  []string
	having   []condition
	orderBy  []orderBy
	limit    int
	offset   int
	hasLimit bool
	err      error
}

// Select starts a MySQL SELECT statement. No columns selects *.
func Select(columns ...string) *SelectBuilder {
	return MySQL.Select(columns...)
}

// Select starts a SELECT statement in dialect d.
func (d Dialect) Select(columns ...string) *SelectBuilder {
	return &SelectBuilder{dialect: d, columns: nonEmpty(columns)}
}

func (b *SelectBuilder) fail(err error) *SelectBuilder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// From sets the table to select from.
func (b *SelectBuilder) From(table string) *SelectBuilder {
	if table = strings.TrimSpace(table); table == "" {
		return b.fail(errors.Wrap(ErrEmptyTable, "select"))
	}
	b.table = table
	return b
}

// Where adds a condition joined with AND.
func (b *SelectBuilder) Where(column, operator string, value any) *SelectBuilder {
	if err := b.where.add(column, operator, value, And); err != nil {
		return b.fail(err)
	}
	return b
}

// WhereEquals adds column = value joined with AND.
func (b *SelectBuilder) WhereEquals(column string, value any) *SelectBuilder {
	return b.Where(column, "=", value)
}

// OrWhere adds a condition joined with OR.
func (b *SelectBuilder) OrWhere(column, operator string, value any) *SelectBuilder {
	if err := b.where.add(column, operator, value, Or); err != nil {
		return b.fail(err)
	}
	return b
}

// OrWhereEquals adds column = value joined with OR.
func (b *SelectBuilder) OrWhereEquals(column string, value any) *SelectBuilder {
	return b.OrWhere(column, "=", value)
}

// WhereNull adds column IS NULL joined with AND.
func (b *SelectBuilder) WhereNull(column string) *SelectBuilder {
	if err := b.where.addUnary(column, "IS NULL", And); err != nil {
		return b.fail(err)
	}
	return b
}

// WhereNotNull adds column IS NOT NULL joined with AND.
func (b *SelectBuilder) WhereNotNull(column string) *SelectBuilder {
	if err := b.where.addUnary(column, "IS NOT NULL", And); err != nil {
		return b.fail(err)
	}
	return b
}

// Join adds an INNER JOIN.
func (b *SelectBuilder) Join(table, on string) *SelectBuilder {
	return b.addJoin("INNER", table, on)
}

// LeftJoin adds a LEFT JOIN.
func (b *SelectBuilder) LeftJoin(table, on string) *SelectBuilder {
	return b.addJoin("LEFT", table, on)
}

// RightJoin adds a RIGHT JOIN.
func (b *SelectBuilder) RightJoin(table, on string) *SelectBuilder {
	return b.addJoin("RIGHT", table, on)
}

func (b *SelectBuilder) addJoin(kind, table, on string) *SelectBuilder {
	table, on = strings.TrimSpace(table), strings.TrimSpace(on)
	if table == "" {
		return b.fail(errors.Wrapf(ErrEmptyTable, "%s join", strings.ToLower(kind)))
	}
	if on == "" {
		return b.fail(errors.Errorf("%s join %s: ON condition must not be empty", strings.ToLower(kind), table))
	}
	b.joins = append(b.joins, join{kind: kind, table: table, on: on})
	return b
}

// GroupBy adds GROUP BY columns.
func (b *SelectBuilder) GroupBy(columns ...string) *SelectBuilder {
	b.groupBy = append(b.groupBy, nonEmpty(columns)...)
	return b
}

// Having adds a HAVING condition, for example Having("COUNT(*)", ">", 5).
// Conditions are joined with AND and only rendered together with GROUP BY.
func (b *SelectBuilder) Having(expr, operator string, value any) *SelectBuilder {
	expr, operator = strings.TrimSpace(expr), strings.TrimSpace(operator)
	if expr == "" {
		return b.fail(errors.Wrap(ErrEmptyColumn, "having"))
	}
	if operator == "" {
		return b.fail(errors.Wrapf(ErrEmptyOperator, "having %s", expr))
	}
	b.having = append(b.having, condition{column: expr, operator: operator, value: value, logical: And})
	return b
}

// OrderBy adds a sort column.
func (b *SelectBuilder) OrderBy(column string, dir Direction) *SelectBuilder {
	if column = strings.TrimSpace(column); column == "" {
		return b.fail(errors.Wrap(ErrEmptyColumn, "order by"))
	}
	b.orderBy = append(b.orderBy, orderBy{column: column, dir: dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(limit int) *SelectBuilder {
	if limit < 0 {
		return b.fail(errors.Wrapf(ErrNegativeLimit, "limit %d", limit))
	}
	b.limit = limit
	b.hasLimit = true
	return b
}

// Offset sets the number of rows to skip. It is only rendered with a Limit.
func (b *SelectBuilder) Offset(offset int) *SelectBuilder {
	if offset < 0 {
		return b.fail(errors.Wrapf(ErrNegativeLimit, "offset %d", offset))
	}
	b.offset = offset
	return b
}

// Count returns a copy that selects COUNT(*) with the same FROM, JOIN and
// WHERE clauses and no ordering or pagination.
func (b *SelectBuilder) Count() *SelectBuilder {
	c := *b
	c.columns = []string{"COUNT(*)"}
	c.joins = append([]join(nil), b.joins...)
	c.where = whereClause{conds: append([]condition(nil), b.where.conds...)}
	c.groupBy = nil
	c.having = nil
	c.orderBy = nil
	c.hasLimit = false
	c.limit, c.offset = 0, 0
	return &c
}

// Build renders the statement.
func (b *SelectBuilder) Build() (Statement, error) {
	if b.err != nil {
		return Statement{}, b.err
	}
	if b.table == "" {
		return Statement{}, errors.Wrap(ErrEmptyTable, "select: call From first")
	}

	var sb strings.Builder
	var args []any
	ph := &placeholders{dialect: b.dialect}

	sb.WriteString("SELECT ")
	if len(b.columns) == 0 {
		sb.WriteString("*")
	} else {
		sb.WriteString(strings.Join(b.columns, ", "))
	}
	sb.WriteString(" FROM ")
	sb.WriteString(b.table)

	for _, j := range b.joins {
		sb.WriteString(" ")
		sb.WriteString(j.kind)
		sb.WriteString(" JOIN ")
		sb.WriteString(j.table)
		sb.WriteString(" ON ")
		sb.WriteString(j.on)
	}

	args = b.where.render(&sb, ph, args)

	if len(b.groupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBy, ", "))
		if len(b.having) > 0 {
			parts := make([]string, len(b.having))
			for i, h := range b.having {
				parts[i] = h.column + " " + h.operator + " " + ph.next()
				args = append(args, h.value)
			}
			sb.WriteString(" HAVING ")
			sb.WriteString(strings.Join(parts, " AND "))
		}
	}

	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			if o.dir == Desc {
				parts[i] = o.column + " DESC"
			} else {
				parts[i] = o.column + " ASC"
			}
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if b.hasLimit {
		sb.WriteString(" LIMIT ")
		sb.WriteString(ph.next())
		args = append(args, b.limit)
		if b.offset > 0 {
			sb.WriteString(" OFFSET ")
			sb.WriteString(ph.next())
			args = append(args, b.offset)
		}
	}

	return Statement{SQL: sb.String(), Args: args}, nil
}
