package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// IdentityRepository provides data access for identities.
type IdentityRepository interface {
	Create(ctx context.Context, identity *models.Identity) error
	GetByID(ctx context.Context, identityID uuid.UUID) (*models.Identity, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error)
	Update(ctx context.Context, identity *models.Identity) error

	// SetBase marks identityID as the user's base identity and clears the flag on the others.
	SetBase(ctx context.Context, userID, identityID uuid.UUID) error

	// DeleteWithLastCheck atomically deletes an identity, returning ErrLastIdentity
	// if it is the user's only identity. Categories and influences cascade.
	DeleteWithLastCheck(ctx context.Context, userID, identityID uuid.UUID) error
}

type identityRepository struct{}

// NewIdentityRepository creates a new IdentityRepository.
func NewIdentityRepository() IdentityRepository {
	return &identityRepository{}
}

var _ IdentityRepository = (*identityRepository)(nil)

const identityColumns = `
	id, user_id, name, is_base, location_city, location_state, location_country,
	physical_attributes, created_at, updated_at`

func (r *identityRepository) Create(ctx context.Context, identity *models.Identity) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := time.Now()
	city, state, country := locationColumns(identity.Location)

	query := `
		INSERT INTO engine_identities (
			id, user_id, name, is_base, location_city, location_state, location_country,
			physical_attributes, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		identity.ID,
		identity.UserID,
		identity.Name,
		identity.IsBase,
		city,
		state,
		country,
		attributesValue(identity.PhysicalAttributes),
		now,
		now,
	).Scan(&identity.CreatedAt, &identity.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create identity: %w", err)
	}

	return nil
}

func (r *identityRepository) GetByID(ctx context.Context, identityID uuid.UUID) (*models.Identity, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + identityColumns + ` FROM engine_identities WHERE id = $1`

	identity, err := scanIdentity(scope.Conn.QueryRow(ctx, query, identityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return identity, nil
}

func (r *identityRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + identityColumns + `
		FROM engine_identities
		WHERE user_id = $1
		ORDER BY is_base DESC, created_at, name`

	rows, err := scope.Conn.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}
	defer rows.Close()

	var identities []*models.Identity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		identities = append(identities, identity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating identities: %w", err)
	}

	return identities, nil
}

func (r *identityRepository) Update(ctx context.Context, identity *models.Identity) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	city, state, country := locationColumns(identity.Location)

	query := `
		UPDATE engine_identities
		SET name = $2, location_city = $3, location_state = $4, location_country = $5,
		    physical_attributes = $6, updated_at = $7
		WHERE id = $1
		RETURNING updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		identity.ID,
		identity.Name,
		city,
		state,
		country,
		attributesValue(identity.PhysicalAttributes),
		time.Now(),
	).Scan(&identity.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to update identity: %w", err)
	}

	return nil
}

func (r *identityRepository) SetBase(ctx context.Context, userID, identityID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	return withTx(ctx, scope, func(tx pgx.Tx) error {
		now := time.Now()
		result, err := tx.Exec(ctx,
			`UPDATE engine_identities SET is_base = true, updated_at = $3 WHERE id = $1 AND user_id = $2`,
			identityID, userID, now)
		if err != nil {
			return fmt.Errorf("failed to set base identity: %w", err)
		}
		if result.RowsAffected() == 0 {
			return apperrors.ErrNotFound
		}

		_, err = tx.Exec(ctx,
			`UPDATE engine_identities SET is_base = false, updated_at = $3
			 WHERE user_id = $1 AND id <> $2 AND is_base`,
			userID, identityID, now)
		if err != nil {
			return fmt.Errorf("failed to clear base identity: %w", err)
		}
		return nil
	})
}

func (r *identityRepository) DeleteWithLastCheck(ctx context.Context, userID, identityID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	return withTx(ctx, scope, func(tx pgx.Tx) error {
		// Lock every identity of the user so two concurrent deletes cannot both pass the count.
		rows, err := tx.Query(ctx,
			`SELECT id FROM engine_identities WHERE user_id = $1 FOR UPDATE`, userID)
		if err != nil {
			return fmt.Errorf("failed to lock identities: %w", err)
		}
		var count int
		found := false
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan identity id: %w", err)
			}
			count++
			if id == identityID {
				found = true
			}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating identities: %w", err)
		}

		if !found {
			return apperrors.ErrNotFound
		}
		if count <= 1 {
			return apperrors.ErrLastIdentity
		}

		if _, err := tx.Exec(ctx, `DELETE FROM engine_identities WHERE id = $1`, identityID); err != nil {
			return fmt.Errorf("failed to delete identity: %w", err)
		}
		return nil
	})
}

func scanIdentity(row pgx.Row) (*models.Identity, error) {
	var i models.Identity
	var city, state, country *string
	var attributes []byte

	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Name,
		&i.IsBase,
		&city,
		&state,
		&country,
		&attributes,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan identity: %w", err)
	}

	loc := &models.Location{City: derefString(city), State: derefString(state), Country: derefString(country)}
	if !loc.IsEmpty() {
		i.Location = loc
	}

	if len(attributes) > 0 && string(attributes) != "null" {
		if err := jsonUnmarshal(attributes, &i.PhysicalAttributes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal physical_attributes: %w", err)
		}
	}

	return &i, nil
}

func locationColumns(loc *models.Location) (city, state, country *string) {
	if loc == nil {
		return nil, nil, nil
	}
	return nullString(loc.City), nullString(loc.State), nullString(loc.Country)
}

// attributesValue stores NULL for an empty attribute map.
func attributesValue(attrs map[string]string) any {
	if len(attrs) == 0 {
		return nil
	}
	return attrs
}
