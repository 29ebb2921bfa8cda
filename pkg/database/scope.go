package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OwnerScope wraps a connection with the owning user's context and ensures cleanup.
// The connection has app.current_user_id set for RLS policy evaluation.
// Inside a transaction Conn is the pgx.Tx and release is nil.
type OwnerScope struct {
	Conn    Querier
	conn    *pgxpool.Conn
	ownerID uuid.UUID
}

// OwnerID returns the user the scope was opened for, or uuid.Nil for unscoped connections.
func (s *OwnerScope) OwnerID() uuid.UUID {
	return s.ownerID
}

// Close resets the owner context and releases the connection to the pool.
// This MUST be called to prevent owner context from leaking to the next request.
func (s *OwnerScope) Close() {
	if s.conn == nil {
		return
	}
	_, _ = s.conn.Exec(context.Background(), "RESET app.current_user_id")
	s.conn.Release()
	s.conn = nil
}

// WithOwner acquires a connection and sets the owner context for RLS.
// The returned OwnerScope MUST be closed with defer scope.Close().
func (db *DB) WithOwner(ctx context.Context, userID uuid.UUID) (*OwnerScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	_, err = conn.Exec(ctx, "SELECT set_config('app.current_user_id', $1, false)", userID.String())
	if err != nil {
		conn.Release()
		return nil, err
	}

	return &OwnerScope{Conn: conn, conn: conn, ownerID: userID}, nil
}

// WithoutOwner acquires a connection without owner context.
// Use this for maintenance and test setup that needs full access.
// The returned OwnerScope MUST be closed with defer scope.Close().
func (db *DB) WithoutOwner(ctx context.Context) (*OwnerScope, error) {
	conn, err := db.Pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &OwnerScope{Conn: conn, conn: conn}, nil
}
