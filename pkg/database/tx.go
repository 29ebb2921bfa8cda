package database

import (
	"context"
	"fmt"
)

// Transactor runs a function inside one database transaction.
// Repositories called with the ctx passed to fn see the transaction through
// the owner scope, so multi-repository writes commit or roll back together.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type scopeTransactor struct{}

// NewTransactor returns a Transactor that uses the owner scope already in context.
func NewTransactor() Transactor {
	return scopeTransactor{}
}

func (scopeTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	scope, ok := GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	// Nested calls become savepoints (pgx.Tx.Begin).
	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	txCtx := SetOwnerScope(ctx, &OwnerScope{Conn: tx, ownerID: scope.ownerID})
	if err = fn(txCtx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
