package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/preference"
	"github.com/ekaya-inc/ekaya-identity/pkg/services"
)

// mockIdentityService keeps identities in a map and checks the owning user.
type mockIdentityService struct {
	identities map[uuid.UUID]*models.Identity
	err        error

	deleted   []uuid.UUID
	cloneName string
}

func (m *mockIdentityService) Create(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	if identity.Name == "" {
		return nil, apperrors.ErrInvalidInput
	}
	identity.ID = uuid.New()
	identity.UserID = userID
	m.identities[identity.ID] = identity
	return identity, nil
}

func (m *mockIdentityService) EnsureBase(ctx context.Context, userID uuid.UUID) (*models.Identity, error) {
	for _, i := range m.identities {
		if i.UserID == userID && i.IsBase {
			return i, nil
		}
	}
	return m.Create(ctx, userID, &models.Identity{Name: services.DefaultBaseIdentityName, IsBase: true})
}

func (m *mockIdentityService) List(ctx context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*models.Identity
	for _, i := range m.identities {
		if i.UserID == userID {
			out = append(out, i)
		}
	}
	return out, nil
}

func (m *mockIdentityService) Get(ctx context.Context, userID, identityID uuid.UUID) (*models.Identity, error) {
	i, ok := m.identities[identityID]
	if !ok || i.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	c := *i
	return &c, nil
}

func (m *mockIdentityService) Update(ctx context.Context, userID uuid.UUID, identity *models.Identity) (*models.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.identities[identity.ID] = identity
	return identity, nil
}

func (m *mockIdentityService) SetBase(ctx context.Context, userID, identityID uuid.UUID) error {
	return m.err
}

func (m *mockIdentityService) Delete(ctx context.Context, userID, identityID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.deleted = append(m.deleted, identityID)
	delete(m.identities, identityID)
	return nil
}

func (m *mockIdentityService) Clone(ctx context.Context, userID, sourceID uuid.UUID, newName string) (*models.Identity, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.cloneName = newName
	if newName == "" {
		newName = m.identities[sourceID].Name + " (copy)"
	}
	return m.Create(ctx, userID, &models.Identity{Name: newName})
}

// mockTreeService holds categories by id.
type mockTreeService struct {
	categories map[uuid.UUID]*models.Category
	roots      []*models.Category
	flat       []preference.FlatCategory
	err        error

	createdParent *uuid.UUID
}

func (m *mockTreeService) CreateCategory(ctx context.Context, identityID uuid.UUID, parentID *uuid.UUID, name, categoryType string) (*models.Category, error) {
	if m.err != nil {
		return nil, m.err
	}
	if parentID != nil {
		if p, ok := m.categories[*parentID]; !ok || p.IdentityID != identityID {
			return nil, apperrors.ErrInvalidParent
		}
	}
	m.createdParent = parentID
	c := &models.Category{ID: uuid.New(), IdentityID: identityID, ParentID: parentID, Name: name, Type: categoryType, Level: 1}
	m.categories[c.ID] = c
	return c, nil
}

func (m *mockTreeService) DeleteCategory(ctx context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error) {
	if m.err != nil {
		return nil, m.err
	}
	delete(m.categories, categoryID)
	return &models.CategoryDeletion{CategoryIDs: []uuid.UUID{categoryID}, CategoriesRemoved: 1}, nil
}

func (m *mockTreeService) ListTree(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error) {
	return m.roots, m.err
}

func (m *mockTreeService) FlattenTree(ctx context.Context, identityID uuid.UUID) ([]preference.FlatCategory, error) {
	return m.flat, m.err
}

func (m *mockTreeService) GetCategory(ctx context.Context, categoryID uuid.UUID) (*models.Category, error) {
	c, ok := m.categories[categoryID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return c, nil
}

func (m *mockTreeService) RenameCategory(ctx context.Context, categoryID uuid.UUID, name string) (*models.Category, error) {
	if name == "" {
		return nil, apperrors.ErrInvalidInput
	}
	c := m.categories[categoryID]
	c.Name = name
	return c, nil
}

func (m *mockTreeService) LoadTree(ctx context.Context, identityID uuid.UUID) (*services.Tree, error) {
	return nil, m.err
}

// mockLedgerService records the arguments of the last mutating call.
type mockLedgerService struct {
	influences map[uuid.UUID]*models.Influence
	list       []*models.Influence
	err        error

	insertedAt   int
	inserted     *models.Influence
	reorderFrom  int
	reorderTo    int
	replaced     []*models.Influence
	copiedTo     uuid.UUID
	removed      uuid.UUID
	renamedTo    string
	alignedTo    *float64
	distasteName string
}

func (m *mockLedgerService) List(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error) {
	return m.list, m.err
}

func (m *mockLedgerService) Get(ctx context.Context, influenceID uuid.UUID) (*models.Influence, error) {
	inf, ok := m.influences[influenceID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	c := *inf
	return &c, nil
}

func (m *mockLedgerService) InsertAt(ctx context.Context, categoryID uuid.UUID, influence *models.Influence, position int) (*models.Influence, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.insertedAt = position
	m.inserted = influence
	influence.ID = uuid.New()
	influence.CategoryID = categoryID
	influence.Alignment = models.ClampAlignment(influence.Alignment)
	return influence, nil
}

func (m *mockLedgerService) Reorder(ctx context.Context, categoryID uuid.UUID, from, to int) ([]*models.Influence, error) {
	m.reorderFrom, m.reorderTo = from, to
	return m.list, m.err
}

func (m *mockLedgerService) SetAlignment(ctx context.Context, influenceID uuid.UUID, value float64) (*models.Influence, error) {
	m.alignedTo = &value
	inf := m.influences[influenceID]
	inf.Alignment = models.ClampAlignment(value)
	return inf, m.err
}

func (m *mockLedgerService) Remove(ctx context.Context, influenceID uuid.UUID) error {
	m.removed = influenceID
	return m.err
}

func (m *mockLedgerService) ReplaceAll(ctx context.Context, categoryID uuid.UUID, ordered []*models.Influence) ([]*models.Influence, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.replaced = ordered
	for i, inf := range ordered {
		inf.CategoryID = categoryID
		inf.Position = i
	}
	return ordered, nil
}

func (m *mockLedgerService) CopyToCategory(ctx context.Context, influenceID, targetCategoryID uuid.UUID) (*models.Influence, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.copiedTo = targetCategoryID
	c := m.influences[influenceID].Clone()
	c.ID = uuid.New()
	c.CategoryID = targetCategoryID
	return c, nil
}

func (m *mockLedgerService) RecordDistaste(ctx context.Context, categoryID uuid.UUID, name string) (*models.Influence, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.distasteName = name
	return &models.Influence{ID: uuid.New(), CategoryID: categoryID, Name: name}, nil
}

func (m *mockLedgerService) Rename(ctx context.Context, influenceID uuid.UUID, name string) (*models.Influence, error) {
	m.renamedTo = name
	inf := m.influences[influenceID]
	inf.Name = name
	return inf, m.err
}

type mockAggregatorService struct {
	items  []preference.AggregatedInfluence
	edited []preference.AggregatedInfluence
	err    error
}

func (m *mockAggregatorService) Aggregate(ctx context.Context, categoryID uuid.UUID) ([]preference.AggregatedInfluence, error) {
	return m.items, m.err
}

func (m *mockAggregatorService) ApplyAggregatedEdit(ctx context.Context, categoryID uuid.UUID, edited []preference.AggregatedInfluence) ([]preference.AggregatedInfluence, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.edited = edited
	return edited, nil
}

type mockPreferenceService struct {
	served    []models.ServedPreference
	partition *preference.Partitioned[*models.Influence]
	summary   *models.PreferenceSummary
	err       error

	lastCategory *uuid.UUID
}

func (m *mockPreferenceService) Served(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) ([]models.ServedPreference, error) {
	m.lastCategory = categoryID
	return m.served, m.err
}

func (m *mockPreferenceService) Partition(ctx context.Context, identityID uuid.UUID, categoryID *uuid.UUID) (*preference.Partitioned[*models.Influence], error) {
	m.lastCategory = categoryID
	return m.partition, m.err
}

func (m *mockPreferenceService) Summary(ctx context.Context, identityID uuid.UUID) (*models.PreferenceSummary, error) {
	return m.summary, m.err
}

func (m *mockPreferenceService) Threshold() float64 {
	return preference.DefaultServingThreshold
}

type mockAddInterestService struct {
	result      *models.CategorizeResult
	saveResult  *services.SaveInterestResult
	suggestions []models.CategorySuggestion
	err         error

	lastText   string
	lastSource *uuid.UUID
	lastSave   *services.SaveInterestRequest
	lastParent *uuid.UUID
}

func (m *mockAddInterestService) NewFlow(ctx context.Context, identityID uuid.UUID, opts services.FlowOptions) (*services.AddInterestFlow, error) {
	return nil, m.err
}

func (m *mockAddInterestService) Categorize(ctx context.Context, identityID uuid.UUID, text string, sourceCategoryID *uuid.UUID) (*models.CategorizeResult, error) {
	m.lastText, m.lastSource = text, sourceCategoryID
	return m.result, m.err
}

func (m *mockAddInterestService) SaveInterest(ctx context.Context, req *services.SaveInterestRequest) (*services.SaveInterestResult, error) {
	m.lastSave = req
	return m.saveResult, m.err
}

func (m *mockAddInterestService) Suggest(ctx context.Context, identityID uuid.UUID, parentCategoryID *uuid.UUID) ([]models.CategorySuggestion, error) {
	m.lastParent = parentCategoryID
	return m.suggestions, m.err
}

// fixture wires every handler to the mocks on one mux, the way main does.
type fixture struct {
	identities  *mockIdentityService
	tree        *mockTreeService
	ledger      *mockLedgerService
	aggregator  *mockAggregatorService
	preferences *mockPreferenceService
	interests   *mockAddInterestService
	mux         *http.ServeMux

	userID     uuid.UUID
	identity   *models.Identity
	category   *models.Category
	influence  *models.Influence
	otherUser  uuid.UUID
	otherIdent *models.Identity
	otherCat   *models.Category
}

func passthrough(h http.HandlerFunc) http.HandlerFunc { return h }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fx := &fixture{
		identities:  &mockIdentityService{identities: map[uuid.UUID]*models.Identity{}},
		tree:        &mockTreeService{categories: map[uuid.UUID]*models.Category{}},
		ledger:      &mockLedgerService{influences: map[uuid.UUID]*models.Influence{}},
		aggregator:  &mockAggregatorService{},
		preferences: &mockPreferenceService{},
		interests:   &mockAddInterestService{},
		mux:         http.NewServeMux(),
		userID:      uuid.New(),
		otherUser:   uuid.New(),
	}

	fx.identity = &models.Identity{ID: uuid.New(), UserID: fx.userID, Name: "Me", IsBase: true}
	fx.otherIdent = &models.Identity{ID: uuid.New(), UserID: fx.otherUser, Name: "Them", IsBase: true}
	fx.identities.identities[fx.identity.ID] = fx.identity
	fx.identities.identities[fx.otherIdent.ID] = fx.otherIdent

	fx.category = &models.Category{ID: uuid.New(), IdentityID: fx.identity.ID, Name: "Music", Type: "music", Level: 1}
	fx.otherCat = &models.Category{ID: uuid.New(), IdentityID: fx.otherIdent.ID, Name: "Food", Type: "food", Level: 1}
	fx.tree.categories[fx.category.ID] = fx.category
	fx.tree.categories[fx.otherCat.ID] = fx.otherCat

	fx.influence = &models.Influence{ID: uuid.New(), CategoryID: fx.category.ID, Name: "Radiohead", Alignment: 90}
	fx.ledger.influences[fx.influence.ID] = fx.influence

	logger := zap.NewNop()
	access := NewAccess(fx.identities, fx.tree, fx.ledger, logger)
	NewIdentityHandler(fx.identities, access, logger).RegisterRoutes(fx.mux, passthrough)
	NewTreeHandler(fx.tree, access, logger).RegisterRoutes(fx.mux, passthrough)
	NewInfluenceHandler(fx.ledger, fx.aggregator, access, logger).RegisterRoutes(fx.mux, passthrough)
	NewPreferenceHandler(fx.preferences, access, logger).RegisterRoutes(fx.mux, passthrough)
	NewInterestHandler(fx.interests, access, logger).RegisterRoutes(fx.mux, passthrough)
	return fx
}

func (fx *fixture) identityPath() string {
	return "/api/users/" + fx.userID.String() + "/identities/" + fx.identity.ID.String()
}

func (fx *fixture) categoryPath() string {
	return fx.identityPath() + "/categories/" + fx.category.ID.String()
}

func (fx *fixture) influencePath() string {
	return fx.categoryPath() + "/influences/" + fx.influence.ID.String()
}

// do sends a request through the mux. A nil body sends none.
func (fx *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

// decodeData unwraps the success envelope into dst.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, dst))
}

// decodeError returns the error code of an error response.
func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body["error"]
}

func ptr[T any](v T) *T { return &v }
