package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// summaryTopN is how many served influences each category summary lists.
const summaryTopN = 5

// PreferenceService is the read side used by recommendation engines.
type PreferenceService interface {
	// Served returns served influences sorted by alignment descending. With a nil
	// categoryID the whole identity is considered, otherwise the category's subtree.
	Served(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) ([]models.ServedPreference, error)

	// Partition splits the same influence set into served and unserved halves.
	Partition(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) (*preference.Partitioned[*models.Influence], error)

	// Summary returns per-root counts, tier histograms and top served influences.
	// Results are cached under a key derived from the tree's fingerprint.
	Summary(ctx context.Context, identityID uuid.UUID) (*models.PreferenceSummary, error)

	Threshold() float64
}

type preferenceService struct {
	identityRepo  repositories.IdentityRepository
	categoryRepo  repositories.CategoryRepository
	influenceRepo repositories.InfluenceRepository
	tree          TreeService
	aggregator    AggregatorService
	cache         SummaryCache
	threshold     float64
	maxDepth      int
	cacheTTL      time.Duration
	group         singleflight.Group
	logger        *zap.Logger
}

// NewPreferenceService creates a new preference read service. cache may be nil.
func NewPreferenceService(
	identityRepo repositories.IdentityRepository,
	categoryRepo repositories.CategoryRepository,
	influenceRepo repositories.InfluenceRepository,
	tree TreeService,
	aggregator AggregatorService,
	cache SummaryCache,
	threshold float64,
	maxDepth int,
	cacheTTL time.Duration,
	logger *zap.Logger,
) PreferenceService {
	if maxDepth <= 0 {
		maxDepth = preference.DefaultMaxDepth
	}
	return &preferenceService{
		identityRepo:  identityRepo,
		categoryRepo:  categoryRepo,
		influenceRepo: influenceRepo,
		tree:          tree,
		aggregator:    aggregator,
		cache:         cache,
		threshold:     threshold,
		maxDepth:      maxDepth,
		cacheTTL:      cacheTTL,
		logger:        logger.Named("preferences"),
	}
}

var _ PreferenceService = (*preferenceService)(nil)

func (s *preferenceService) Threshold() float64 {
	return s.threshold
}

func (s *preferenceService) Served(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) ([]models.ServedPreference, error) {
	influences, err := s.influences(ctx, identityID, categoryID)
	if err != nil {
		return nil, err
	}
	return preference.RankServed(influences, s.threshold), nil
}

func (s *preferenceService) Partition(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) (*preference.Partitioned[*models.Influence], error) {
	influences, err := s.influences(ctx, identityID, categoryID)
	if err != nil {
		return nil, err
	}
	p := preference.Partition(influences, s.threshold)
	return &p, nil
}

func (s *preferenceService) influences(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) ([]*models.Influence, error) {
	if _, err := s.identityRepo.GetByID(ctx, identityID); err != nil {
		return nil, err
	}

	if categoryID != nil {
		category, err := s.categoryRepo.GetByID(ctx, *categoryID)
		if err != nil {
			return nil, err
		}
		if category.IdentityID != identityID {
			return nil, apperrors.ErrNotFound
		}
		aggregated, err := s.aggregator.Aggregate(ctx, *categoryID)
		if err != nil {
			return nil, err
		}
		out := make([]*models.Influence, len(aggregated))
		for i, a := range aggregated {
			out[i] = a.Influence
		}
		return out, nil
	}

	tree, err := s.tree.LoadTree(ctx, identityID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(tree.ByID))
	for id := range tree.ByID {
		ids = append(ids, id)
	}
	influences, err := s.influenceRepo.ListByCategories(ctx, ids)
	if err != nil {
		return nil, err
	}
	preference.SortByPosition(influences)
	return influences, nil
}

func (s *preferenceService) Summary(ctx context.Context, identityID uuid.UUID) (*models.PreferenceSummary, error) {
	if _, err := s.identityRepo.GetByID(ctx, identityID); err != nil {
		return nil, err
	}

	fp, err := s.influenceRepo.Fingerprint(ctx, identityID)
	if err != nil {
		return nil, err
	}
	key := summaryKey(identityID, fp, s.threshold)

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			s.logger.Warn("Summary cache read failed",
				zap.String("identity_id", identityID.String()),
				zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}

	v, err, _ := s.group.Do(key, func() (any, error) {
		// Shared by every waiter on key, so one caller cancelling must not fail the rest.
		ctx := context.WithoutCancel(ctx)
		summary, err := s.buildSummary(ctx, identityID)
		if err != nil {
			return nil, err
		}
		summary.CacheKey = key

		if s.cache != nil {
			if err := s.cache.Set(ctx, key, summary, s.cacheTTL); err != nil {
				s.logger.Warn("Summary cache write failed",
					zap.String("identity_id", identityID.String()),
					zap.Error(err))
			}
		}
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PreferenceSummary), nil
}

func (s *preferenceService) buildSummary(ctx context.Context, identityID uuid.UUID) (*models.PreferenceSummary, error) {
	tree, err := s.tree.LoadTree(ctx, identityID)
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(tree.ByID))
	for id := range tree.ByID {
		ids = append(ids, id)
	}
	influences, err := s.influenceRepo.ListByCategories(ctx, ids)
	if err != nil {
		return nil, err
	}
	byCategory := make(map[uuid.UUID][]*models.Influence)
	for _, inf := range influences {
		byCategory[inf.CategoryID] = append(byCategory[inf.CategoryID], inf)
	}

	summary := &models.PreferenceSummary{
		IdentityID: identityID,
		Threshold:  s.threshold,
		Categories: make([]models.CategorySummary, 0, len(tree.Roots())),
	}
	for _, root := range tree.Roots() {
		aggregated, err := preference.Aggregate(root, byCategory, s.maxDepth)
		if err != nil {
			return nil, err
		}
		list := make([]*models.Influence, len(aggregated))
		tiers := make(map[models.AlignmentTier]int)
		for i, a := range aggregated {
			list[i] = a.Influence
			tiers[models.Tier(a.Alignment)]++
		}

		p := preference.Partition(list, s.threshold)
		top := preference.RankServed(list, s.threshold)
		if len(top) > summaryTopN {
			top = top[:summaryTopN]
		}

		summary.Categories = append(summary.Categories, models.CategorySummary{
			CategoryID:  root.ID,
			Name:        root.Name,
			Type:        root.Type,
			ServedCount: p.ServedCount,
			TotalCount:  p.TotalCount,
			Tiers:       tiers,
			Top:         top,
		})
		summary.ServedCount += p.ServedCount
		summary.TotalCount += p.TotalCount
	}

	return summary, nil
}

// summaryKey changes whenever a category or influence is added, removed or modified.
func summaryKey(identityID uuid.UUID, fp *repositories.TreeFingerprint, threshold float64) string {
	return fmt.Sprintf("summary:%s:%d:%d:%d:%g",
		identityID, fp.Categories, fp.Influences, fp.LastModified.UnixNano(), threshold)
}
