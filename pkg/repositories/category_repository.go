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

// CategoryRepository provides data access for the category tree.
type CategoryRepository interface {
	Create(ctx context.Context, category *models.Category) error
	GetByID(ctx context.Context, categoryID uuid.UUID) (*models.Category, error)

	// ListByIdentity returns every category of an identity, ordered by level so
	// parents always precede their children.
	ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error)

	Rename(ctx context.Context, categoryID uuid.UUID, name string) error

	// DeleteSubtree removes the category, all descendants and all their
	// influences in one transaction.
	DeleteSubtree(ctx context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error)
}

type categoryRepository struct{}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository() CategoryRepository {
	return &categoryRepository{}
}

var _ CategoryRepository = (*categoryRepository)(nil)

const categoryColumns = `id, identity_id, parent_id, name, type, level, created_at, updated_at`

func (r *categoryRepository) Create(ctx context.Context, category *models.Category) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	if category.Type == "" {
		category.Type = models.DefaultCategoryType
	}
	now := time.Now()

	query := `
		INSERT INTO engine_categories (
			id, identity_id, parent_id, name, type, level, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`

	err := scope.Conn.QueryRow(ctx, query,
		category.ID,
		category.IdentityID,
		category.ParentID,
		category.Name,
		category.Type,
		category.Level,
		now,
		now,
	).Scan(&category.CreatedAt, &category.UpdatedAt)
	if err != nil {
		// The composite foreign key rejects parents from another identity.
		if isPgError(err, pgForeignKeyViolation) && category.ParentID != nil {
			return apperrors.ErrInvalidParent
		}
		return fmt.Errorf("failed to create category: %w", err)
	}

	return nil
}

func (r *categoryRepository) GetByID(ctx context.Context, categoryID uuid.UUID) (*models.Category, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + categoryColumns + ` FROM engine_categories WHERE id = $1`

	category, err := scanCategory(scope.Conn.QueryRow(ctx, query, categoryID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return category, nil
}

func (r *categoryRepository) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + categoryColumns + `
		FROM engine_categories
		WHERE identity_id = $1
		ORDER BY level, created_at, name`

	rows, err := scope.Conn.Query(ctx, query, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		category, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating categories: %w", err)
	}

	return categories, nil
}

func (r *categoryRepository) Rename(ctx context.Context, categoryID uuid.UUID, name string) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	result, err := scope.Conn.Exec(ctx,
		`UPDATE engine_categories SET name = $2, updated_at = $3 WHERE id = $1`,
		categoryID, name, time.Now())
	if err != nil {
		return fmt.Errorf("failed to rename category: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *categoryRepository) DeleteSubtree(ctx context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	deletion := &models.CategoryDeletion{}
	err := withTx(ctx, scope, func(tx pgx.Tx) error {
		// UNION (not UNION ALL) stops on a corrupted cycle instead of looping.
		rows, err := tx.Query(ctx, `
			WITH RECURSIVE subtree AS (
				SELECT id FROM engine_categories WHERE id = $1
				UNION
				SELECT c.id FROM engine_categories c
				JOIN subtree s ON c.parent_id = s.id
			)
			SELECT id FROM subtree`, categoryID)
		if err != nil {
			return fmt.Errorf("failed to collect subtree: %w", err)
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
		if err != nil {
			return fmt.Errorf("failed to scan subtree ids: %w", err)
		}
		if len(ids) == 0 {
			return apperrors.ErrNotFound
		}
		deletion.CategoryIDs = ids

		result, err := tx.Exec(ctx, `DELETE FROM engine_influences WHERE category_id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("failed to delete influences: %w", err)
		}
		deletion.InfluencesRemoved = result.RowsAffected()

		result, err = tx.Exec(ctx, `DELETE FROM engine_categories WHERE id = ANY($1)`, ids)
		if err != nil {
			return fmt.Errorf("failed to delete categories: %w", err)
		}
		deletion.CategoriesRemoved = result.RowsAffected()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return deletion, nil
}

func scanCategory(row pgx.Row) (*models.Category, error) {
	var c models.Category
	err := row.Scan(
		&c.ID,
		&c.IdentityID,
		&c.ParentID,
		&c.Name,
		&c.Type,
		&c.Level,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan category: %w", err)
	}
	return &c, nil
}
