package writebatch

import (
	"context"
	"database/sql"

	"github.com/mevdschee/tqorm/builder"
	"github.com/mevdschee/tqorm/metrics"
	"github.com/mevdschee/tqorm/parser"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// StatementFunc builds the statement that persists one entity. Returning a
// Statement with empty SQL skips the entity.
type StatementFunc[T any] func(entity T) (builder.Statement, error)

// TxBeginner is satisfied by *sql.DB and *sql.Conn.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// SQLSink returns an update function that writes a batch in one transaction.
// The transaction is rolled back on the first failing statement, so a batch
// is either fully persisted or not at all.
func SQLSink[T any](db TxBeginner, build StatementFunc[T]) UpdateFunc[T] {
	return func(ctx context.Context, batch []T) error {
		stmts := make([]builder.Statement, 0, len(batch))
		for i, e := range batch {
			s, err := build(e)
			if err != nil {
				return errors.Wrapf(err, "build statement %d of %d", i+1, len(batch))
			}
			if s.SQL != "" {
				stmts = append(stmts, s)
			}
		}
		if len(stmts) == 0 {
			return nil
		}
		return executeTransactionBatch(ctx, db, stmts)
	}
}

// executeTransactionBatch runs the statements in a transaction. Identical
// queries are prepared once.
func executeTransactionBatch(ctx context.Context, db TxBeginner, stmts []builder.Statement) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.WithError(rbErr).Warn("rollback failed")
			}
		}
	}()

	if allSame(stmts) {
		err = executePrepared(ctx, tx, stmts)
	} else {
		for i, s := range stmts {
			if _, execErr := s.Exec(ctx, tx); execErr != nil {
				err = errors.Wrapf(execErr, "statement %d of %d", i+1, len(stmts))
				break
			}
		}
	}
	if err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "commit")
	}
	return nil
}

func executePrepared(ctx context.Context, tx *sql.Tx, stmts []builder.Statement) error {
	prepared, err := tx.PrepareContext(ctx, stmts[0].SQL)
	if err != nil {
		return errors.Wrap(err, "prepare")
	}
	defer prepared.Close()

	p := parser.Parse(stmts[0].SQL)
	for i, s := range stmts {
		if _, err := prepared.ExecContext(ctx, s.Args...); err != nil {
			return errors.Wrapf(err, "statement %d of %d", i+1, len(stmts))
		}
		metrics.StatementsTotal.WithLabelValues(p.Type.String(), p.Label()).Inc()
	}
	return nil
}

func allSame(stmts []builder.Statement) bool {
	if len(stmts) < 2 {
		return false
	}
	for _, s := range stmts[1:] {
		if s.SQL != stmts[0].SQL {
			return false
		}
	}
	return true
}
