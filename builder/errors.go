package builder

import "github.com/pkg/errors"

var (
	// ErrEmptyTable is returned when no table name was given
	ErrEmptyTable = errors.New("table name must not be empty")

	// ErrEmptyColumn is returned when a column name or type is empty
	ErrEmptyColumn = errors.New("column name must not be empty")

	// ErrEmptyOperator is returned when a condition has no operator
	ErrEmptyOperator = errors.New("condition operator must not be empty")

	// ErrNoValues is returned when an INSERT has neither values nor rows
	ErrNoValues = errors.New("insert requires at least one value")

	// ErrNoColumns is returned when a batch insert or CREATE TABLE has no columns
	ErrNoColumns = errors.New("at least one column is required")

	// ErrColumnCount is returned when a batch row does not match the column list
	ErrColumnCount = errors.New("row value count does not match column count")

	// ErrNoAssignments is returned when an UPDATE has no SET clause
	ErrNoAssignments = errors.New("update requires at least one assignment")

	// ErrNegativeLimit is returned for a negative LIMIT or OFFSET
	ErrNegativeLimit = errors.New("limit and offset must not be negative")

	// ErrUnsupported is returned when a clause is not available in the dialect
	ErrUnsupported = errors.New("clause not supported by dialect")
)
