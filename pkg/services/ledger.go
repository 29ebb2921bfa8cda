package services

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// EndOfList is a position that always clamps to the end of a list.
const EndOfList = math.MaxInt32

// LedgerService maintains the ranked influence list of each category.
// Positions are dense (0..n-1) after every operation. Writes to one category
// are serialized in this process; across processes list rewrites are last-write-wins.
type LedgerService interface {
	// List returns the category's influences by position.
	List(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error)

	Get(ctx context.Context, influenceID uuid.UUID) (*models.Influence, error)

	// InsertAt places influence at position (clamped to [0,n]) and shifts the rest down.
	InsertAt(ctx context.Context, categoryID uuid.UUID, influence *models.Influence, position int) (*models.Influence, error)

	// Reorder moves the item at from to to. Both are clamped to [0,n-1].
	Reorder(ctx context.Context, categoryID uuid.UUID, from, to int) ([]*models.Influence, error)

	// SetAlignment clamps value to [0,100]. Position is untouched.
	SetAlignment(ctx context.Context, influenceID uuid.UUID, value float64) (*models.Influence, error)

	// Remove deletes an influence and closes the gap it leaves.
	Remove(ctx context.Context, influenceID uuid.UUID) error

	// ReplaceAll rewrites the category's list; position = index in ordered.
	ReplaceAll(ctx context.Context, categoryID uuid.UUID, ordered []*models.Influence) ([]*models.Influence, error)

	// CopyToCategory appends a duplicate with a fresh id to the end of the target list.
	CopyToCategory(ctx context.Context, influenceID, targetCategoryID uuid.UUID) (*models.Influence, error)

	// RecordDistaste appends name with alignment 0.
	RecordDistaste(ctx context.Context, categoryID uuid.UUID, name string) (*models.Influence, error)

	// Rename changes the display name and keeps the id.
	Rename(ctx context.Context, influenceID uuid.UUID, name string) (*models.Influence, error)
}

type ledgerService struct {
	categoryRepo  repositories.CategoryRepository
	influenceRepo repositories.InfluenceRepository
	transactor    database.Transactor
	locks         *keyedMutex
	logger        *zap.Logger
}

// NewLedgerService creates a new ledger service.
func NewLedgerService(
	categoryRepo repositories.CategoryRepository,
	influenceRepo repositories.InfluenceRepository,
	transactor database.Transactor,
	logger *zap.Logger,
) LedgerService {
	return &ledgerService{
		categoryRepo:  categoryRepo,
		influenceRepo: influenceRepo,
		transactor:    transactor,
		locks:         newKeyedMutex(),
		logger:        logger.Named("ledger"),
	}
}

var _ LedgerService = (*ledgerService)(nil)

func (s *ledgerService) List(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error) {
	if _, err := s.categoryRepo.GetByID(ctx, categoryID); err != nil {
		return nil, err
	}
	return s.list(ctx, categoryID)
}

func (s *ledgerService) Get(ctx context.Context, influenceID uuid.UUID) (*models.Influence, error) {
	return s.influenceRepo.GetByID(ctx, influenceID)
}

func (s *ledgerService) list(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error) {
	list, err := s.influenceRepo.ListByCategory(ctx, categoryID)
	if err != nil {
		return nil, err
	}
	preference.SortByPosition(list)
	return list, nil
}

func (s *ledgerService) InsertAt(ctx context.Context, categoryID uuid.UUID, influence *models.Influence, position int) (*models.Influence, error) {
	influence.Name = strings.TrimSpace(influence.Name)
	if influence.Name == "" {
		return nil, fmt.Errorf("influence name is required: %w", apperrors.ErrInvalidInput)
	}
	influence.CategoryID = categoryID
	influence.Alignment = models.ClampAlignment(influence.Alignment)

	unlock := s.locks.Lock(categoryID)
	defer unlock()

	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.categoryRepo.GetByID(ctx, categoryID); err != nil {
			return err
		}
		list, err := s.list(ctx, categoryID)
		if err != nil {
			return err
		}

		reordered := preference.InsertAt(list, influence, position)
		if err := s.influenceRepo.Create(ctx, influence); err != nil {
			return err
		}
		return s.influenceRepo.SetPositions(ctx, categoryID, ids(reordered))
	})
	if err != nil {
		s.logger.Error("Failed to insert influence",
			zap.String("category_id", categoryID.String()),
			zap.Int("position", position),
			zap.Error(err))
		return nil, err
	}

	return influence, nil
}

func (s *ledgerService) Reorder(ctx context.Context, categoryID uuid.UUID, from, to int) ([]*models.Influence, error) {
	unlock := s.locks.Lock(categoryID)
	defer unlock()

	var result []*models.Influence
	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.categoryRepo.GetByID(ctx, categoryID); err != nil {
			return err
		}
		list, err := s.list(ctx, categoryID)
		if err != nil {
			return err
		}

		result = preference.Move(list, from, to)
		return s.influenceRepo.SetPositions(ctx, categoryID, ids(result))
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *ledgerService) SetAlignment(ctx context.Context, influenceID uuid.UUID, value float64) (*models.Influence, error) {
	if err := s.influenceRepo.UpdateAlignment(ctx, influenceID, models.ClampAlignment(value)); err != nil {
		return nil, err
	}
	return s.influenceRepo.GetByID(ctx, influenceID)
}

func (s *ledgerService) Remove(ctx context.Context, influenceID uuid.UUID) error {
	influence, err := s.influenceRepo.GetByID(ctx, influenceID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(influence.CategoryID)
	defer unlock()

	return s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.influenceRepo.Delete(ctx, influenceID); err != nil {
			return err
		}
		remaining, err := s.list(ctx, influence.CategoryID)
		if err != nil {
			return err
		}
		return s.influenceRepo.SetPositions(ctx, influence.CategoryID, ids(preference.Reindex(remaining)))
	})
}

func (s *ledgerService) ReplaceAll(ctx context.Context, categoryID uuid.UUID, ordered []*models.Influence) ([]*models.Influence, error) {
	for _, inf := range ordered {
		inf.Name = strings.TrimSpace(inf.Name)
		if inf.Name == "" {
			return nil, fmt.Errorf("influence name is required: %w", apperrors.ErrInvalidInput)
		}
		inf.Alignment = models.ClampAlignment(inf.Alignment)
	}

	unlock := s.locks.Lock(categoryID)
	defer unlock()

	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.categoryRepo.GetByID(ctx, categoryID); err != nil {
			return err
		}
		current, err := s.influenceRepo.ListByCategory(ctx, categoryID)
		if err != nil {
			return err
		}
		if n := resetForeignIDs(current, ordered); n > 0 {
			s.logger.Debug("Replaced list carried foreign or repeated ids",
				zap.String("category_id", categoryID.String()),
				zap.Int("reassigned", n))
		}
		return s.influenceRepo.ReplaceAll(ctx, categoryID, preference.Reindex(ordered))
	})
	if err != nil {
		s.logger.Error("Failed to replace influence list",
			zap.String("category_id", categoryID.String()),
			zap.Int("count", len(ordered)),
			zap.Error(err))
		return nil, err
	}

	return ordered, nil
}

// resetForeignIDs clears the id of every entry in ordered that the category
// does not currently own, or that repeats an earlier entry, so the rewrite
// inserts it as a new influence. It returns how many ids were cleared.
func resetForeignIDs(current, ordered []*models.Influence) int {
	owned := make(map[uuid.UUID]bool, len(current))
	for _, inf := range current {
		owned[inf.ID] = true
	}
	seen := make(map[uuid.UUID]bool, len(ordered))
	reset := 0
	for _, inf := range ordered {
		if inf.ID == uuid.Nil {
			continue
		}
		if !owned[inf.ID] || seen[inf.ID] {
			inf.ID = uuid.Nil
			reset++
			continue
		}
		seen[inf.ID] = true
	}
	return reset
}

func (s *ledgerService) CopyToCategory(ctx context.Context, influenceID, targetCategoryID uuid.UUID) (*models.Influence, error) {
	source, err := s.influenceRepo.GetByID(ctx, influenceID)
	if err != nil {
		return nil, err
	}

	target, err := s.categoryRepo.GetByID(ctx, targetCategoryID)
	if err != nil {
		return nil, err
	}
	sourceCategory, err := s.categoryRepo.GetByID(ctx, source.CategoryID)
	if err != nil {
		return nil, err
	}
	if sourceCategory.IdentityID != target.IdentityID {
		return nil, fmt.Errorf("copy across identities: %w", apperrors.ErrInvalidParent)
	}

	return s.InsertAt(ctx, targetCategoryID, source.Clone(), EndOfList)
}

func (s *ledgerService) RecordDistaste(ctx context.Context, categoryID uuid.UUID, name string) (*models.Influence, error) {
	return s.InsertAt(ctx, categoryID, &models.Influence{
		Name:      name,
		Alignment: models.DefaultDistasteAlignment,
	}, EndOfList)
}

func (s *ledgerService) Rename(ctx context.Context, influenceID uuid.UUID, name string) (*models.Influence, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("influence name is required: %w", apperrors.ErrInvalidInput)
	}
	if err := s.influenceRepo.UpdateName(ctx, influenceID, name); err != nil {
		return nil, err
	}
	return s.influenceRepo.GetByID(ctx, influenceID)
}

func ids(list []*models.Influence) []uuid.UUID {
	out := make([]uuid.UUID, len(list))
	for i, inf := range list {
		out[i] = inf.ID
	}
	return out
}
