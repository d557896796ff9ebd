package memory

import (
	"context"
	"fmt"

	"github.com/upb/roster-checkin/repositories"
)

type transactionContextKey struct{}

// TransactionManager journals store writes so a failed batch can be undone
type TransactionManager struct {
	store *Store
}

// NewTransactionManager creates a transaction manager for store
func NewTransactionManager(store *Store) repositories.TransactionManager {
	return &TransactionManager{store: store}
}

// Begin starts a new transaction
func (tm *TransactionManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	tx := &Transaction{
		store: tm.store,
		undo:  make(map[string]*undoEntry),
	}
	tx.ctx = context.WithValue(ctx, transactionContextKey{}, tx)
	return tx, nil
}

// InTransaction executes fn within a transaction, joining one already in ctx
func (tm *TransactionManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	if tx := transactionFrom(ctx, tm.store); tx != nil {
		return fn(ctx, tx)
	}

	tx, err := tm.Begin(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Transaction holds the pre-images and pending notifications of one batch
type Transaction struct {
	store   *Store
	ctx     context.Context
	undo    map[string]*undoEntry
	pending []string
	done    bool
}

// Commit publishes the held notifications in write order
func (t *Transaction) Commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return fmt.Errorf("failed to commit transaction: already finished")
	}
	t.done = true
	for _, id := range t.pending {
		t.store.publishLocked(id)
	}
	return nil
}

// Rollback restores every record touched by the transaction
func (t *Transaction) Rollback() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.done {
		return nil
	}
	t.done = true
	t.store.restoreLocked(t.undo)
	return nil
}

// Context returns a context carrying this transaction
func (t *Transaction) Context() context.Context {
	return t.ctx
}

// transactionFrom returns the open transaction in ctx that belongs to store.
// Caller may or may not hold store.mu; done is only written under it.
func transactionFrom(ctx context.Context, store *Store) *Transaction {
	tx, ok := ctx.Value(transactionContextKey{}).(*Transaction)
	if !ok || tx.store != store || tx.done {
		return nil
	}
	return tx
}
