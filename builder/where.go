package builder

import (
	"strings"

	"github.com/pkg/errors"
)

// Logical joins a condition to the one before it.
type Logical string

const (
	And Logical = "AND"
	Or  Logical = "OR"
)

type condition struct {
	column   string
	operator string
	value    any
	logical  Logical
	unary    bool // IS NULL / IS NOT NULL take no argument
}

// whereClause is shared by SELECT, UPDATE and DELETE.
type whereClause struct {
	conds []condition
}

func (w *whereClause) add(column, operator string, value any, logical Logical) error {
	column = strings.TrimSpace(column)
	operator = strings.TrimSpace(operator)
	if column == "" {
		return errors.Wrap(ErrEmptyColumn, "where")
	}
	if operator == "" {
		return errors.Wrapf(ErrEmptyOperator, "where %s", column)
	}
	w.conds = append(w.conds, condition{column: column, operator: operator, value: value, logical: logical})
	return nil
}

func (w *whereClause) addUnary(column, operator string, logical Logical) error {
	column = strings.TrimSpace(column)
	if column == "" {
		return errors.Wrap(ErrEmptyColumn, "where")
	}
	w.conds = append(w.conds, condition{column: column, operator: operator, logical: logical, unary: true})
	return nil
}

func (w *whereClause) empty() bool {
	return len(w.conds) == 0
}

func (w *whereClause) render(sb *strings.Builder, ph *placeholders, args []any) []any {
	if len(w.conds) == 0 {
		return args
	}
	sb.WriteString(" WHERE ")
	for i, c := range w.conds {
		if i > 0 {
			sb.WriteString(" ")
			sb.WriteString(string(c.logical))
			sb.WriteString(" ")
		}
		sb.WriteString(c.column)
		sb.WriteString(" ")
		sb.WriteString(c.operator)
		if c.unary {
			continue
		}
		sb.WriteString(" ")
		sb.WriteString(ph.next())
		args = append(args, c.value)
	}
	return args
}
