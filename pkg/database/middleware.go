package database

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/logging"
)

// OwnerPathValue is the route wildcard naming the owning user, as in /api/users/{uid}/...
const OwnerPathValue = "uid"

// OwnerOpener opens owner-scoped connections. Satisfied by *DB.
type OwnerOpener interface {
	WithOwner(ctx context.Context, userID uuid.UUID) (*OwnerScope, error)
}

// WithOwnerContext wraps a handler so it runs on a connection scoped to the
// {uid} user. The scope is released when the handler returns.
func WithOwnerContext(db OwnerOpener, logger *zap.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			userID, err := uuid.Parse(r.PathValue(OwnerPathValue))
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_user_id", "Invalid user ID format")
				return
			}

			scope, err := db.WithOwner(r.Context(), userID)
			if err != nil {
				logger.Error("Failed to acquire owner connection",
					zap.String("user_id", userID.String()),
					zap.String("error", logging.SanitizeError(err)))
				writeError(w, http.StatusServiceUnavailable, "database_unavailable", "Database connection error")
				return
			}
			defer scope.Close()

			next(w, r.WithContext(SetOwnerScope(r.Context(), scope)))
		}
	}
}

func writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
