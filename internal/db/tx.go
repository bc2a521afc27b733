package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"lightalert/internal/types"
)

// TxManager runs a callback inside a single database transaction. The
// callback receives a transaction-scoped DBTX so repositories constructed
// over it all participate in the same transaction. The transaction commits
// when the callback returns nil and rolls back otherwise.
type TxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager creates a TxManager over the given pool.
func NewTxManager(pool *pgxpool.Pool) *TxManager {
	return &TxManager{pool: pool}
}

// RunInTx begins a transaction, invokes fn with it, and commits or rolls
// back based on fn's error.
func (m *TxManager) RunInTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to commit transaction", err)
	}
	return nil
}
