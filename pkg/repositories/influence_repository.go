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

// TreeFingerprint changes whenever anything in an identity's tree changes.
// Used to key derived caches.
type TreeFingerprint struct {
	Categories   int
	Influences   int
	LastModified time.Time
}

// InfluenceRepository provides data access for ranked influence lists.
type InfluenceRepository interface {
	// Create inserts one influence at the position it carries. Callers are
	// responsible for keeping positions dense.
	Create(ctx context.Context, influence *models.Influence) error

	// CreateMany inserts influences in one round trip, keeping their positions.
	CreateMany(ctx context.Context, influences []*models.Influence) error

	GetByID(ctx context.Context, influenceID uuid.UUID) (*models.Influence, error)
	ListByCategory(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error)
	ListByCategories(ctx context.Context, categoryIDs []uuid.UUID) ([]*models.Influence, error)
	UpdateAlignment(ctx context.Context, influenceID uuid.UUID, alignment float64) error
	UpdateName(ctx context.Context, influenceID uuid.UUID, name string) error
	Delete(ctx context.Context, influenceID uuid.UUID) error

	// SetPositions assigns position = index to each id of the category.
	SetPositions(ctx context.Context, categoryID uuid.UUID, orderedIDs []uuid.UUID) error

	// ReplaceAll deletes every influence of the category and inserts the given
	// list with position = index, in one transaction.
	ReplaceAll(ctx context.Context, categoryID uuid.UUID, influences []*models.Influence) error

	Fingerprint(ctx context.Context, identityID uuid.UUID) (*TreeFingerprint, error)
}

type influenceRepository struct{}

// NewInfluenceRepository creates a new InfluenceRepository.
func NewInfluenceRepository() InfluenceRepository {
	return &influenceRepository{}
}

var _ InfluenceRepository = (*influenceRepository)(nil)

const influenceColumns = `id, category_id, name, alignment, position, mood_tags, created_at, updated_at`

const insertInfluenceSQL = `
	INSERT INTO engine_influences (
		id, category_id, name, alignment, position, mood_tags, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

func (r *influenceRepository) Create(ctx context.Context, influence *models.Influence) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	prepareInsert(influence, time.Now())
	_, err := scope.Conn.Exec(ctx, insertInfluenceSQL, insertArgs(influence)...)
	if err != nil {
		if isPgError(err, pgForeignKeyViolation) {
			return apperrors.ErrNotFound
		}
		if isPgError(err, pgUniqueViolation) {
			return apperrors.ErrConflict
		}
		return fmt.Errorf("failed to create influence: %w", err)
	}

	return nil
}

func (r *influenceRepository) CreateMany(ctx context.Context, influences []*models.Influence) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}
	if len(influences) == 0 {
		return nil
	}

	return withTx(ctx, scope, func(tx pgx.Tx) error {
		return insertBatch(ctx, tx, influences)
	})
}

func (r *influenceRepository) GetByID(ctx context.Context, influenceID uuid.UUID) (*models.Influence, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + influenceColumns + ` FROM engine_influences WHERE id = $1`

	influence, err := scanInfluence(scope.Conn.QueryRow(ctx, query, influenceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}

	return influence, nil
}

func (r *influenceRepository) ListByCategory(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `SELECT ` + influenceColumns + `
		FROM engine_influences
		WHERE category_id = $1
		ORDER BY position, created_at`

	rows, err := scope.Conn.Query(ctx, query, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to query influences: %w", err)
	}
	return collectInfluences(rows)
}

func (r *influenceRepository) ListByCategories(ctx context.Context, categoryIDs []uuid.UUID) ([]*models.Influence, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}
	if len(categoryIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + influenceColumns + `
		FROM engine_influences
		WHERE category_id = ANY($1)
		ORDER BY category_id, position, created_at`

	rows, err := scope.Conn.Query(ctx, query, categoryIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query influences: %w", err)
	}
	return collectInfluences(rows)
}

func (r *influenceRepository) UpdateAlignment(ctx context.Context, influenceID uuid.UUID, alignment float64) error {
	return r.updateColumn(ctx, influenceID, "alignment", alignment)
}

func (r *influenceRepository) UpdateName(ctx context.Context, influenceID uuid.UUID, name string) error {
	return r.updateColumn(ctx, influenceID, "name", name)
}

// updateColumn updates a single mutable column. column is never user input.
func (r *influenceRepository) updateColumn(ctx context.Context, influenceID uuid.UUID, column string, value any) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	query := fmt.Sprintf(`UPDATE engine_influences SET %s = $2, updated_at = $3 WHERE id = $1`, column)
	result, err := scope.Conn.Exec(ctx, query, influenceID, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to update influence %s: %w", column, err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *influenceRepository) Delete(ctx context.Context, influenceID uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	result, err := scope.Conn.Exec(ctx, `DELETE FROM engine_influences WHERE id = $1`, influenceID)
	if err != nil {
		return fmt.Errorf("failed to delete influence: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *influenceRepository) SetPositions(ctx context.Context, categoryID uuid.UUID, orderedIDs []uuid.UUID) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}
	if len(orderedIDs) == 0 {
		return nil
	}

	// The (category_id, position) constraint is deferred, so a permutation can
	// be written in a single statement.
	query := `
		UPDATE engine_influences i
		SET position = v.ord - 1, updated_at = $3
		FROM unnest($2::uuid[]) WITH ORDINALITY AS v(id, ord)
		WHERE i.id = v.id AND i.category_id = $1 AND i.position <> v.ord - 1`

	if _, err := scope.Conn.Exec(ctx, query, categoryID, orderedIDs, time.Now()); err != nil {
		return fmt.Errorf("failed to set influence positions: %w", err)
	}

	return nil
}

func (r *influenceRepository) ReplaceAll(ctx context.Context, categoryID uuid.UUID, influences []*models.Influence) error {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return fmt.Errorf("no owner scope in context")
	}

	return withTx(ctx, scope, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM engine_influences WHERE category_id = $1`, categoryID); err != nil {
			return fmt.Errorf("failed to clear influences: %w", err)
		}

		for i, inf := range influences {
			inf.CategoryID = categoryID
			inf.Position = i
		}
		return insertBatch(ctx, tx, influences)
	})
}

func (r *influenceRepository) Fingerprint(ctx context.Context, identityID uuid.UUID) (*TreeFingerprint, error) {
	scope, ok := database.GetOwnerScope(ctx)
	if !ok {
		return nil, fmt.Errorf("no owner scope in context")
	}

	query := `
		SELECT
			(SELECT count(*) FROM engine_categories WHERE identity_id = $1),
			(SELECT count(*) FROM engine_influences i
			   JOIN engine_categories c ON c.id = i.category_id
			  WHERE c.identity_id = $1),
			GREATEST(
				(SELECT max(updated_at) FROM engine_categories WHERE identity_id = $1),
				(SELECT max(i.updated_at) FROM engine_influences i
				   JOIN engine_categories c ON c.id = i.category_id
				  WHERE c.identity_id = $1)
			)`

	var fp TreeFingerprint
	var lastModified *time.Time
	if err := scope.Conn.QueryRow(ctx, query, identityID).Scan(&fp.Categories, &fp.Influences, &lastModified); err != nil {
		return nil, fmt.Errorf("failed to compute tree fingerprint: %w", err)
	}
	if lastModified != nil {
		fp.LastModified = *lastModified
	}

	return &fp, nil
}

func insertBatch(ctx context.Context, tx pgx.Tx, influences []*models.Influence) error {
	if len(influences) == 0 {
		return nil
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, inf := range influences {
		prepareInsert(inf, now)
		batch.Queue(insertInfluenceSQL, insertArgs(inf)...)
	}

	br := tx.SendBatch(ctx, batch)
	for _, inf := range influences {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if isPgError(err, pgUniqueViolation) {
				return fmt.Errorf("influence %s already exists: %w", inf.ID, apperrors.ErrConflict)
			}
			return fmt.Errorf("failed to insert influence: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close insert batch: %w", err)
	}
	return nil
}

func prepareInsert(inf *models.Influence, now time.Time) {
	if inf.ID == uuid.Nil {
		inf.ID = uuid.New()
	}
	if inf.MoodTags == nil {
		inf.MoodTags = []string{}
	}
	inf.Alignment = models.ClampAlignment(inf.Alignment)
	inf.CreatedAt = now
	inf.UpdatedAt = now
}

func insertArgs(inf *models.Influence) []any {
	return []any{
		inf.ID,
		inf.CategoryID,
		inf.Name,
		inf.Alignment,
		inf.Position,
		inf.MoodTags,
		inf.CreatedAt,
		inf.UpdatedAt,
	}
}

func collectInfluences(rows pgx.Rows) ([]*models.Influence, error) {
	defer rows.Close()

	var influences []*models.Influence
	for rows.Next() {
		influence, err := scanInfluence(rows)
		if err != nil {
			return nil, err
		}
		influences = append(influences, influence)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating influences: %w", err)
	}

	return influences, nil
}

func scanInfluence(row pgx.Row) (*models.Influence, error) {
	var i models.Influence
	err := row.Scan(
		&i.ID,
		&i.CategoryID,
		&i.Name,
		&i.Alignment,
		&i.Position,
		&i.MoodTags,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan influence: %w", err)
	}
	return &i, nil
}
