package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/upb/roster-checkin/repositories"
	"go.uber.org/zap"
)

type txKey struct{}

// TransactionManager runs import batches inside one sql.Tx
type TransactionManager struct {
	db     *DB
	logger *zap.Logger
}

// NewTransactionManager creates a transaction manager on the pool
func NewTransactionManager(db *DB, logger *zap.Logger) repositories.TransactionManager {
	return &TransactionManager{
		db:     db,
		logger: logger,
	}
}

// Begin opens a transaction; repository calls made with its Context join it
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	sqlTx, err := tm.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &Transaction{tx: sqlTx, logger: tm.logger}
	t.ctx = context.WithValue(ctx, txKey{}, t)
	tm.logger.Debug("transaction started")
	return t, nil
}

// InTransaction runs fn in a transaction. A context that already carries
// one joins it instead of nesting.
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if tx, ok := TransactionFromContext(ctx); ok {
		return fn(ctx, tx)
	}

	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx.Context(), tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			tm.logger.Error("failed to rollback transaction",
				zap.Error(rbErr),
				zap.NamedError("cause", err))
		}
		return err
	}

	return tx.Commit()
}

// Transaction wraps a sql.Tx. Change notifications raised by the trigger
// are delivered only once it commits.
type Transaction struct {
	tx     *sql.Tx
	ctx    context.Context
	logger *zap.Logger
}

// Commit commits the transaction
func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	t.logger.Debug("transaction committed")
	return nil
}

// Rollback aborts the transaction; rolling back a finished one is a no-op
func (t *Transaction) Rollback() error {
	err := t.tx.Rollback()
	switch {
	case err == nil:
		t.logger.Debug("transaction rolled back")
		return nil
	case errors.Is(err, sql.ErrTxDone):
		return nil
	default:
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
}

// Context returns a context carrying this transaction
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// TransactionFromContext returns the transaction carried by ctx, if any
func TransactionFromContext(ctx context.Context) (*Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*Transaction)
	return tx, ok
}

// querier is satisfied by both *sql.DB and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querierFor returns the transaction carried by ctx, or the pool
func querierFor(ctx context.Context, db *DB) querier {
	if tx, ok := TransactionFromContext(ctx); ok {
		return tx.tx
	}
	return db.DB
}
