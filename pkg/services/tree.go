package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// Tree is an identity's assembled category forest with an id index.
type Tree struct {
	IdentityID uuid.UUID
	Forest     *preference.Forest
	ByID       map[uuid.UUID]*models.Category
}

// Roots returns the top-level categories, orphans included.
func (t *Tree) Roots() []*models.Category {
	return t.Forest.Roots
}

// TreeService maintains the category tree of an identity.
type TreeService interface {
	// CreateCategory adds a category under parentID, or a root when parentID is nil.
	// Returns ErrInvalidParent when the parent is missing or belongs to another identity
	// and ErrMaxDepthExceeded when the new level would exceed the configured depth.
	CreateCategory(ctx context.Context, identityID uuid.UUID, parentID *uuid.UUID, name, categoryType string) (*models.Category, error)

	// DeleteCategory removes a category, its descendants and all their influences atomically.
	DeleteCategory(ctx context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error)

	// ListTree returns the root categories with Subcategories populated.
	ListTree(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error)

	// FlattenTree returns the tree depth-first with indented labels, for pickers.
	FlattenTree(ctx context.Context, identityID uuid.UUID) ([]preference.FlatCategory, error)

	GetCategory(ctx context.Context, categoryID uuid.UUID) (*models.Category, error)
	RenameCategory(ctx context.Context, categoryID uuid.UUID, name string) (*models.Category, error)

	// LoadTree assembles the forest and logs integrity problems found on the way.
	LoadTree(ctx context.Context, identityID uuid.UUID) (*Tree, error)
}

type treeService struct {
	identityRepo repositories.IdentityRepository
	categoryRepo repositories.CategoryRepository
	maxDepth     int
	logger       *zap.Logger
}

// NewTreeService creates a new tree service.
func NewTreeService(
	identityRepo repositories.IdentityRepository,
	categoryRepo repositories.CategoryRepository,
	maxDepth int,
	logger *zap.Logger,
) TreeService {
	if maxDepth <= 0 {
		maxDepth = preference.DefaultMaxDepth
	}
	return &treeService{
		identityRepo: identityRepo,
		categoryRepo: categoryRepo,
		maxDepth:     maxDepth,
		logger:       logger.Named("tree"),
	}
}

var _ TreeService = (*treeService)(nil)

func (s *treeService) CreateCategory(ctx context.Context, identityID uuid.UUID, parentID *uuid.UUID, name, categoryType string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name is required: %w", apperrors.ErrInvalidInput)
	}

	if _, err := s.identityRepo.GetByID(ctx, identityID); err != nil {
		return nil, err
	}

	category := &models.Category{
		IdentityID: identityID,
		Name:       name,
		Type:       strings.TrimSpace(categoryType),
		Level:      1,
	}
	if category.Type == "" {
		category.Type = models.DefaultCategoryType
	}

	if parentID != nil {
		parent, err := s.categoryRepo.GetByID(ctx, *parentID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				return nil, apperrors.ErrInvalidParent
			}
			return nil, err
		}
		if parent.IdentityID != identityID {
			s.logger.Warn("Rejected cross-identity parent",
				zap.String("identity_id", identityID.String()),
				zap.String("parent_id", parentID.String()),
				zap.String("parent_identity_id", parent.IdentityID.String()))
			return nil, apperrors.ErrInvalidParent
		}
		category.ParentID = &parent.ID
		category.Level = parent.Level + 1
	}

	if category.Level > s.maxDepth {
		return nil, fmt.Errorf("level %d exceeds %d: %w", category.Level, s.maxDepth, apperrors.ErrMaxDepthExceeded)
	}

	if err := s.categoryRepo.Create(ctx, category); err != nil {
		s.logger.Error("Failed to create category",
			zap.String("identity_id", identityID.String()),
			zap.String("name", name),
			zap.Error(err))
		return nil, err
	}

	return category, nil
}

func (s *treeService) DeleteCategory(ctx context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error) {
	deletion, err := s.categoryRepo.DeleteSubtree(ctx, categoryID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.Error("Failed to delete category subtree",
				zap.String("category_id", categoryID.String()),
				zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("Deleted category subtree",
		zap.String("category_id", categoryID.String()),
		zap.Int64("categories_removed", deletion.CategoriesRemoved),
		zap.Int64("influences_removed", deletion.InfluencesRemoved))

	return deletion, nil
}

func (s *treeService) ListTree(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error) {
	tree, err := s.LoadTree(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return tree.Roots(), nil
}

func (s *treeService) FlattenTree(ctx context.Context, identityID uuid.UUID) ([]preference.FlatCategory, error) {
	tree, err := s.LoadTree(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return preference.Flatten(tree.Roots(), s.maxDepth)
}

func (s *treeService) GetCategory(ctx context.Context, categoryID uuid.UUID) (*models.Category, error) {
	return s.categoryRepo.GetByID(ctx, categoryID)
}

func (s *treeService) RenameCategory(ctx context.Context, categoryID uuid.UUID, name string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("category name is required: %w", apperrors.ErrInvalidInput)
	}
	if err := s.categoryRepo.Rename(ctx, categoryID, name); err != nil {
		return nil, err
	}
	return s.categoryRepo.GetByID(ctx, categoryID)
}

func (s *treeService) LoadTree(ctx context.Context, identityID uuid.UUID) (*Tree, error) {
	categories, err := s.categoryRepo.ListByIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}

	forest := preference.BuildForest(categories)
	s.logIntegrity(identityID, forest)

	byID := make(map[uuid.UUID]*models.Category, len(categories))
	for _, c := range categories {
		byID[c.ID] = c
	}

	return &Tree{IdentityID: identityID, Forest: forest, ByID: byID}, nil
}

// logIntegrity reports problems that are tolerated on read: orphans are shown
// as roots and cached levels are trusted.
func (s *treeService) logIntegrity(identityID uuid.UUID, forest *preference.Forest) {
	for _, c := range forest.Orphans {
		s.logger.Warn("Orphaned category treated as root",
			zap.String("identity_id", identityID.String()),
			zap.String("category_id", c.ID.String()),
			zap.Stringer("parent_id", c.ParentID))
	}
	for _, c := range forest.LevelDrift {
		s.logger.Warn("Cached category level disagrees with tree depth",
			zap.String("identity_id", identityID.String()),
			zap.String("category_id", c.ID.String()),
			zap.Int("level", c.Level))
	}
	for _, c := range forest.Unreachable {
		s.logger.Warn("Category unreachable from any root",
			zap.String("identity_id", identityID.String()),
			zap.String("category_id", c.ID.String()))
	}
}
