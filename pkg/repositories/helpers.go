package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ekaya-inc/ekaya-identity/pkg/database"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// nullString returns nil if the string is empty, otherwise returns the string pointer.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// derefString returns "" for nil.
func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// jsonUnmarshal unmarshals JSONB data from the database.
func jsonUnmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// isPgError reports whether err is a Postgres error with the given SQLSTATE.
func isPgError(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// withTx runs fn in a transaction on the scope's connection. When the scope is
// already a transaction this becomes a savepoint.
func withTx(ctx context.Context, scope *database.OwnerScope, fn func(tx pgx.Tx) error) (err error) {
	tx, err := scope.Conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
