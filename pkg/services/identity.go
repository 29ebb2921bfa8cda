package services

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// DefaultBaseIdentityName names the identity created during onboarding.
const DefaultBaseIdentityName = "Me"

// IdentityService manages a user's identities. Every method checks that the
// identity belongs to userID and reports ErrNotFound otherwise.
type IdentityService interface {
	// Create adds an identity. A user's first identity is always the base identity.
	Create(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error)

	// EnsureBase returns the user's base identity, creating one when the user has
	// none and repairing the flag when no identity carries it.
	EnsureBase(ctx context.Context, userID uuid.UUID) (*models.Identity, error)

	List(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error)
	Get(ctx context.Context, userID, identityID uuid.UUID) (*models.Identity, error)

	// Update changes name, location and physical attributes.
	Update(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error)

	SetBase(ctx context.Context, userID, identityID uuid.UUID) error

	// Delete removes an identity with its whole tree. The last identity cannot be
	// deleted; deleting the base identity promotes the oldest remaining one.
	Delete(ctx context.Context, userID, identityID uuid.UUID) error

	// Clone duplicates an identity's tree and influences into a new non-base
	// identity in one transaction. An empty newName yields "<name> (copy)".
	Clone(ctx context.Context, userID, sourceID uuid.UUID, newName string) (*models.Identity, error)
}

type identityService struct {
	identityRepo  repositories.IdentityRepository
	categoryRepo  repositories.CategoryRepository
	influenceRepo repositories.InfluenceRepository
	transactor    database.Transactor
	logger        *zap.Logger
}

// NewIdentityService creates a new identity service.
func NewIdentityService(
	identityRepo repositories.IdentityRepository,
	categoryRepo repositories.CategoryRepository,
	influenceRepo repositories.InfluenceRepository,
	transactor database.Transactor,
	logger *zap.Logger,
) IdentityService {
	return &identityService{
		identityRepo:  identityRepo,
		categoryRepo:  categoryRepo,
		influenceRepo: influenceRepo,
		transactor:    transactor,
		logger:        logger.Named("identity"),
	}
}

var _ IdentityService = (*identityService)(nil)

func (s *identityService) Create(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error) {
	identity.Name = strings.TrimSpace(identity.Name)
	if identity.Name == "" {
		return nil, fmt.Errorf("identity name is required: %w", apperrors.ErrInvalidInput)
	}
	identity.ID = uuid.Nil
	identity.UserID = userID
	wantBase := identity.IsBase

	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.identityRepo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		identity.IsBase = len(existing) == 0
		if err := s.identityRepo.Create(ctx, identity); err != nil {
			return err
		}
		if wantBase && !identity.IsBase {
			if err := s.identityRepo.SetBase(ctx, userID, identity.ID); err != nil {
				return err
			}
			identity.IsBase = true
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create identity",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Created identity",
		zap.String("user_id", userID.String()),
		zap.String("identity_id", identity.ID.String()),
		zap.Bool("is_base", identity.IsBase))

	return identity, nil
}

func (s *identityService) EnsureBase(ctx context.Context, userID uuid.UUID) (*models.Identity, error) {
	var base *models.Identity
	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.identityRepo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			base = &models.Identity{UserID: userID, Name: DefaultBaseIdentityName, IsBase: true}
			return s.identityRepo.Create(ctx, base)
		}
		for _, identity := range existing {
			if identity.IsBase {
				base = identity
				return nil
			}
		}

		s.logger.Warn("User has no base identity; promoting oldest",
			zap.String("user_id", userID.String()),
			zap.String("identity_id", existing[0].ID.String()))
		base = existing[0]
		if err := s.identityRepo.SetBase(ctx, userID, base.ID); err != nil {
			return err
		}
		base.IsBase = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return base, nil
}

func (s *identityService) List(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	return s.identityRepo.ListByUser(ctx, userID)
}

func (s *identityService) Get(ctx context.Context, userID, identityID uuid.UUID) (*models.Identity, error) {
	identity, err := s.identityRepo.GetByID(ctx, identityID)
	if err != nil {
		return nil, err
	}
	if identity.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	return identity, nil
}

func (s *identityService) Update(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error) {
	existing, err := s.Get(ctx, userID, identity.ID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(identity.Name)
	if name == "" {
		return nil, fmt.Errorf("identity name is required: %w", apperrors.ErrInvalidInput)
	}
	existing.Name = name
	existing.Location = identity.Location
	existing.PhysicalAttributes = identity.PhysicalAttributes

	if err := s.identityRepo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

func (s *identityService) SetBase(ctx context.Context, userID, identityID uuid.UUID) error {
	if _, err := s.Get(ctx, userID, identityID); err != nil {
		return err
	}
	return s.identityRepo.SetBase(ctx, userID, identityID)
}

func (s *identityService) Delete(ctx context.Context, userID, identityID uuid.UUID) error {
	err := s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		existing, err := s.Get(ctx, userID, identityID)
		if err != nil {
			return err
		}
		if err := s.identityRepo.DeleteWithLastCheck(ctx, userID, identityID); err != nil {
			return err
		}
		if !existing.IsBase {
			return nil
		}

		remaining, err := s.identityRepo.ListByUser(ctx, userID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			return nil
		}
		return s.identityRepo.SetBase(ctx, userID, remaining[0].ID)
	})
	if err != nil {
		s.logger.Warn("Failed to delete identity",
			zap.String("user_id", userID.String()),
			zap.String("identity_id", identityID.String()),
			zap.Error(err))
		return err
	}

	s.logger.Info("Deleted identity",
		zap.String("user_id", userID.String()),
		zap.String("identity_id", identityID.String()))
	return nil
}

func (s *identityService) Clone(ctx context.Context, userID, sourceID uuid.UUID, newName string) (*models.Identity, error) {
	source, err := s.Get(ctx, userID, sourceID)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(newName)
	if name == "" {
		name = source.Name + " (copy)"
	}

	clone := &models.Identity{
		UserID:             userID,
		Name:               name,
		IsBase:             false,
		PhysicalAttributes: maps.Clone(source.PhysicalAttributes),
	}
	if source.Location != nil {
		loc := *source.Location
		clone.Location = &loc
	}

	var categoryCount, influenceCount int
	err = s.transactor.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.identityRepo.Create(ctx, clone); err != nil {
			return err
		}

		categories, err := s.categoryRepo.ListByIdentity(ctx, sourceID)
		if err != nil {
			return err
		}
		forest := preference.BuildForest(categories)
		if len(forest.Unreachable) > 0 {
			s.logger.Warn("Clone skips categories unreachable from any root",
				zap.String("identity_id", sourceID.String()),
				zap.Int("unreachable", len(forest.Unreachable)))
		}

		// Breadth-first so every parent is cloned before its children.
		newIDs := make(map[uuid.UUID]uuid.UUID, len(categories))
		type item struct {
			node   *models.Category
			parent *models.Category
		}
		queue := make([]item, 0, len(categories))
		for _, root := range forest.Roots {
			queue = append(queue, item{node: root})
		}
		for len(queue) > 0 {
			it := queue[0]
			queue = queue[1:]
			if _, done := newIDs[it.node.ID]; done {
				continue
			}

			// The cached level is copied as-is, drift included.
			copied := &models.Category{
				IdentityID: clone.ID,
				Name:       it.node.Name,
				Type:       it.node.Type,
				Level:      it.node.Level,
			}
			if it.parent != nil {
				copied.ParentID = &it.parent.ID
			}
			if err := s.categoryRepo.Create(ctx, copied); err != nil {
				return fmt.Errorf("clone category %s: %w", it.node.ID, err)
			}
			newIDs[it.node.ID] = copied.ID

			for _, child := range it.node.Subcategories {
				queue = append(queue, item{node: child, parent: copied})
			}
		}
		categoryCount = len(newIDs)

		oldIDs := make([]uuid.UUID, 0, len(newIDs))
		for id := range newIDs {
			oldIDs = append(oldIDs, id)
		}
		influences, err := s.influenceRepo.ListByCategories(ctx, oldIDs)
		if err != nil {
			return err
		}
		copies := make([]*models.Influence, 0, len(influences))
		for _, inf := range influences {
			c := inf.Clone()
			c.CategoryID = newIDs[inf.CategoryID]
			copies = append(copies, c)
		}
		influenceCount = len(copies)
		return s.influenceRepo.CreateMany(ctx, copies)
	})
	if err != nil {
		s.logger.Error("Failed to clone identity",
			zap.String("user_id", userID.String()),
			zap.String("source_identity_id", sourceID.String()),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("Cloned identity",
		zap.String("source_identity_id", sourceID.String()),
		zap.String("identity_id", clone.ID.String()),
		zap.Int("categories", categoryCount),
		zap.Int("influences", influenceCount))

	return clone, nil
}
