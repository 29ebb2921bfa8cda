package tools

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/database"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

var errNotImplemented = errors.New("not implemented in mock")

// mockScoper hands out scopes without a pooled connection; Close is a no-op on them.
type mockScoper struct {
	err    error
	owners []uuid.UUID
}

func (m *mockScoper) WithOwner(ctx context.Context, userID uuid.UUID) (*database.OwnerScope, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.owners = append(m.owners, userID)
	return &database.OwnerScope{}, nil
}

// mockIdentityService implements services.IdentityService for testing.
type mockIdentityService struct {
	identities []*models.Identity
	err        error
}

func (m *mockIdentityService) Create(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error) {
	return nil, errNotImplemented
}

func (m *mockIdentityService) EnsureBase(ctx context.Context, userID uuid.UUID) (*models.Identity, error) {
	return nil, errNotImplemented
}

func (m *mockIdentityService) List(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Identity
	for _, identity := range m.identities {
		if identity.UserID == userID {
			out = append(out, identity)
		}
	}
	return out, nil
}

func (m *mockIdentityService) Get(ctx context.Context, userID, identityID uuid.UUID) (*models.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, identity := range m.identities {
		if identity.ID == identityID && identity.UserID == userID {
			return identity, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockIdentityService) Update(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error) {
	return nil, errNotImplemented
}

func (m *mockIdentityService) SetBase(ctx context.Context, userID, identityID uuid.UUID) error {
	return errNotImplemented
}

func (m *mockIdentityService) Delete(ctx context.Context, userID, identityID uuid.UUID) error {
	return errNotImplemented
}

func (m *mockIdentityService) Clone(ctx context.Context, userID, sourceID uuid.UUID, newName string) (*models.Identity, error) {
	return nil, errNotImplemented
}

// mockTreeService implements services.TreeService for testing.
type mockTreeService struct {
	categories map[uuid.UUID]*models.Category
	flat       []preference.FlatCategory
	err        error
}

func (m *mockTreeService) CreateCategory(ctx context.Context, identityID uuid.UUID, parentID *uuid.UUID, name, categoryType string) (*models.Category, error) {
	return nil, errNotImplemented
}

func (m *mockTreeService) DeleteCategory(ctx context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error) {
	return nil, errNotImplemented
}

func (m *mockTreeService) ListTree(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error) {
	return nil, errNotImplemented
}

func (m *mockTreeService) FlattenTree(ctx context.Context, identityID uuid.UUID) ([]preference.FlatCategory, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.flat, nil
}

func (m *mockTreeService) GetCategory(ctx context.Context, categoryID uuid.UUID) (*models.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	if c, ok := m.categories[categoryID]; ok {
		return c, nil
	}
	return nil, apperrors.ErrNotFound
}

func (m *mockTreeService) RenameCategory(ctx context.Context, categoryID uuid.UUID, name string) (*models.Category, error) {
	return nil, errNotImplemented
}

func (m *mockTreeService) LoadTree(ctx context.Context, identityID uuid.UUID) (*services.Tree, error) {
	return nil, errNotImplemented
}

// mockPreferenceService implements services.PreferenceService for testing.
type mockPreferenceService struct {
	served      []models.ServedPreference
	summary     *models.PreferenceSummary
	err         error
	threshold   float64
	gotIdentity uuid.UUID
	gotCategory *uuid.UUID
}

func (m *mockPreferenceService) Served(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) ([]models.ServedPreference, error) {
	m.gotIdentity = identityID
	m.gotCategory = categoryID
	if m.err != nil {
		return nil, m.err
	}
	return m.served, nil
}

func (m *mockPreferenceService) Partition(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) (*preference.Partitioned[*models.Influence], error) {
	return nil, errNotImplemented
}

func (m *mockPreferenceService) Summary(ctx context.Context, identityID uuid.UUID) (*models.PreferenceSummary, error) {
	m.gotIdentity = identityID
	if m.err != nil {
		return nil, m.err
	}
	return m.summary, nil
}

func (m *mockPreferenceService) Threshold() float64 {
	return m.threshold
}
