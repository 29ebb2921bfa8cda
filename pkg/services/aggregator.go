package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// AggregatorService presents a category and its descendants as one flat list
// and writes edits of that list back to the owning categories.
type AggregatorService interface {
	// Aggregate returns the category's own influences followed by each child
	// subtree depth-first. A leaf yields its own list.
	Aggregate(ctx context.Context, categoryID uuid.UUID) ([]preference.AggregatedInfluence, error)

	// ApplyAggregatedEdit splits edited by owner, reindexes each group and
	// replaces every affected category's list in one transaction. Categories of
	// the subtree that had influences but are absent from edited are emptied.
	ApplyAggregatedEdit(ctx context.Context, categoryID uuid.UUID, edited []preference.AggregatedInfluence) ([]preference.AggregatedInfluence, error)
}

type aggregatorService struct {
	categoryRepo  repositories.CategoryRepository
	influenceRepo repositories.InfluenceRepository
	tree          TreeService
	ledger        LedgerService
	transactor    database.Transactor
	maxDepth      int
	logger        *zap.Logger
}

// NewAggregatorService creates a new aggregator service.
func NewAggregatorService(
	categoryRepo repositories.CategoryRepository,
	influenceRepo repositories.InfluenceRepository,
	tree TreeService,
	ledger LedgerService,
	transactor database.Transactor,
	maxDepth int,
	logger *zap.Logger,
) AggregatorService {
	if maxDepth <= 0 {
		maxDepth = preference.DefaultMaxDepth
	}
	return &aggregatorService{
		categoryRepo:  categoryRepo,
		influenceRepo: influenceRepo,
		tree:          tree,
		ledger:        ledger,
		transactor:    transactor,
		maxDepth:      maxDepth,
		logger:        logger.Named("aggregator"),
	}
}

var _ AggregatorService = (*aggregatorService)(nil)

func (s *aggregatorService) Aggregate(ctx context.Context, categoryID uuid.UUID) ([]preference.AggregatedInfluence, error) {
	node, byCategory, err := s.load(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	return preference.Aggregate(node, byCategory, s.maxDepth)
}

// load returns the category's node in its assembled tree and the influences of
// the whole subtree keyed by category.
func (s *aggregatorService) load(ctx context.Context, categoryID uuid.UUID) (*models.Category, map[uuid.UUID][]*models.Influence, error) {
	category, err := s.categoryRepo.GetByID(ctx, categoryID)
	if err != nil {
		return nil, nil, err
	}

	tree, err := s.tree.LoadTree(ctx, category.IdentityID)
	if err != nil {
		return nil, nil, err
	}
	node, ok := tree.ByID[categoryID]
	if !ok {
		return nil, nil, apperrors.ErrNotFound
	}

	influences, err := s.influenceRepo.ListByCategories(ctx, preference.SubtreeIDs(node))
	if err != nil {
		return nil, nil, err
	}
	byCategory := make(map[uuid.UUID][]*models.Influence)
	for _, inf := range influences {
		byCategory[inf.CategoryID] = append(byCategory[inf.CategoryID], inf)
	}

	return node, byCategory, nil
}

func (s *aggregatorService) ApplyAggregatedEdit(ctx context.Context, categoryID uuid.UUID, edited []preference.AggregatedInfluence) ([]preference.AggregatedInfluence, error) {
	node, current, err := s.load(ctx, categoryID)
	if err != nil {
		return nil, err
	}

	inSubtree := make(map[uuid.UUID]bool)
	for _, id := range preference.SubtreeIDs(node) {
		inSubtree[id] = true
	}
	for _, it := range edited {
		if it.Influence == nil {
			return nil, fmt.Errorf("aggregated edit contains an empty item: %w", apperrors.ErrInvalidInput)
		}
		if !inSubtree[it.OwnerCategoryID] {
			s.logger.Warn("Rejected aggregated edit with owner outside subtree",
				zap.String("category_id", categoryID.String()),
				zap.String("owner_category_id", it.OwnerCategoryID.String()))
			return nil, fmt.Errorf("owner %s is not below %s: %w", it.OwnerCategoryID, categoryID, apperrors.ErrInvalidParent)
		}
	}

	// An influence moved to another owner, or listed twice, is re-inserted under
	// a fresh id so the per-category rewrites cannot collide on primary keys.
	owner := make(map[uuid.UUID]uuid.UUID)
	for id, list := range current {
		for _, inf := range list {
			owner[inf.ID] = id
		}
	}
	seen := make(map[uuid.UUID]bool, len(edited))
	for _, it := range edited {
		id := it.Influence.ID
		if id == uuid.Nil {
			continue
		}
		if seen[id] || owner[id] != it.OwnerCategoryID {
			it.Influence.ID = uuid.Nil
			continue
		}
		seen[id] = true
	}

	groups := preference.GroupByOwner(edited)
	touched := make(map[uuid.UUID]bool, len(groups))
	for _, g := range groups {
		touched[g.CategoryID] = true
	}
	for id, list := range current {
		if !touched[id] && len(list) > 0 {
			groups = append(groups, preference.OwnerGroup{CategoryID: id})
		}
	}

	err = s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		for _, g := range groups {
			if _, err := s.ledger.ReplaceAll(ctx, g.CategoryID, g.Influences); err != nil {
				return fmt.Errorf("replace influences of %s: %w", g.CategoryID, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to apply aggregated edit",
			zap.String("category_id", categoryID.String()),
			zap.Int("categories", len(groups)),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Applied aggregated edit",
		zap.String("category_id", categoryID.String()),
		zap.Int("categories", len(groups)),
		zap.Int("influences", len(edited)))

	return s.Aggregate(ctx, categoryID)
}
