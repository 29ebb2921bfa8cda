package services

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

// memStore backs the in-memory repositories. It enforces the same ownership
// and cascade rules as the database schema, except deferred position uniqueness.
type memStore struct {
	mu         sync.Mutex
	identities map[uuid.UUID]*models.Identity
	categories map[uuid.UUID]*models.Category
	influences map[uuid.UUID]*models.Influence
	clock      time.Time
}

func newMemStore() *memStore {
	return &memStore{
		identities: make(map[uuid.UUID]*models.Identity),
		categories: make(map[uuid.UUID]*models.Category),
		influences: make(map[uuid.UUID]*models.Influence),
		clock:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp. Caller holds mu.
func (s *memStore) tick() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func copyIdentity(i *models.Identity) *models.Identity {
	c := *i
	if i.Location != nil {
		loc := *i.Location
		c.Location = &loc
	}
	if i.PhysicalAttributes != nil {
		c.PhysicalAttributes = make(map[string]string, len(i.PhysicalAttributes))
		for k, v := range i.PhysicalAttributes {
			c.PhysicalAttributes[k] = v
		}
	}
	return &c
}

func copyCategory(cat *models.Category) *models.Category {
	c := *cat
	if cat.ParentID != nil {
		p := *cat.ParentID
		c.ParentID = &p
	}
	c.Subcategories = nil
	return &c
}

func copyInfluence(inf *models.Influence) *models.Influence {
	c := *inf
	c.MoodTags = append([]string{}, inf.MoodTags...)
	return &c
}

// --- identities ---

type memIdentityRepo struct{ s *memStore }

var _ repositories.IdentityRepository = (*memIdentityRepo)(nil)

func (r *memIdentityRepo) Create(_ context.Context, identity *models.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if identity.ID == uuid.Nil {
		identity.ID = uuid.New()
	}
	now := r.s.tick()
	identity.CreatedAt, identity.UpdatedAt = now, now
	r.s.identities[identity.ID] = copyIdentity(identity)
	return nil
}

func (r *memIdentityRepo) GetByID(_ context.Context, identityID uuid.UUID) (*models.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	i, ok := r.s.identities[identityID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyIdentity(i), nil
}

func (r *memIdentityRepo) ListByUser(_ context.Context, userID uuid.UUID) ([]*models.Identity, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Identity
	for _, i := range r.s.identities {
		if i.UserID == userID {
			out = append(out, copyIdentity(i))
		}
	}
	slices.SortFunc(out, func(a, b *models.Identity) int {
		if a.IsBase != b.IsBase {
			if a.IsBase {
				return -1
			}
			return 1
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (r *memIdentityRepo) Update(_ context.Context, identity *models.Identity) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.identities[identity.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	identity.UpdatedAt = r.s.tick()
	updated := copyIdentity(identity)
	updated.IsBase = existing.IsBase
	updated.CreatedAt = existing.CreatedAt
	r.s.identities[identity.ID] = updated
	return nil
}

func (r *memIdentityRepo) SetBase(_ context.Context, userID, identityID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	target, ok := r.s.identities[identityID]
	if !ok || target.UserID != userID {
		return apperrors.ErrNotFound
	}
	for _, i := range r.s.identities {
		if i.UserID == userID {
			i.IsBase = i.ID == identityID
		}
	}
	return nil
}

func (r *memIdentityRepo) DeleteWithLastCheck(_ context.Context, userID, identityID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	target, ok := r.s.identities[identityID]
	if !ok || target.UserID != userID {
		return apperrors.ErrNotFound
	}
	count := 0
	for _, i := range r.s.identities {
		if i.UserID == userID {
			count++
		}
	}
	if count <= 1 {
		return apperrors.ErrLastIdentity
	}

	delete(r.s.identities, identityID)
	for id, c := range r.s.categories {
		if c.IdentityID == identityID {
			delete(r.s.categories, id)
			r.s.dropInfluencesOf(id)
		}
	}
	return nil
}

// dropInfluencesOf removes a category's influences. Caller holds mu.
func (s *memStore) dropInfluencesOf(categoryID uuid.UUID) int64 {
	var n int64
	for id, inf := range s.influences {
		if inf.CategoryID == categoryID {
			delete(s.influences, id)
			n++
		}
	}
	return n
}

// --- categories ---

type memCategoryRepo struct{ s *memStore }

var _ repositories.CategoryRepository = (*memCategoryRepo)(nil)

func (r *memCategoryRepo) Create(_ context.Context, category *models.Category) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.identities[category.IdentityID]; !ok {
		return apperrors.ErrNotFound
	}
	if category.ParentID != nil {
		parent, ok := r.s.categories[*category.ParentID]
		if !ok || parent.IdentityID != category.IdentityID {
			return apperrors.ErrInvalidParent
		}
	}
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	if category.Type == "" {
		category.Type = models.DefaultCategoryType
	}
	now := r.s.tick()
	category.CreatedAt, category.UpdatedAt = now, now
	r.s.categories[category.ID] = copyCategory(category)
	return nil
}

func (r *memCategoryRepo) GetByID(_ context.Context, categoryID uuid.UUID) (*models.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.categories[categoryID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyCategory(c), nil
}

func (r *memCategoryRepo) ListByIdentity(_ context.Context, identityID uuid.UUID) ([]*models.Category, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Category
	for _, c := range r.s.categories {
		if c.IdentityID == identityID {
			out = append(out, copyCategory(c))
		}
	}
	slices.SortFunc(out, func(a, b *models.Category) int {
		if a.Level != b.Level {
			return a.Level - b.Level
		}
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

func (r *memCategoryRepo) Rename(_ context.Context, categoryID uuid.UUID, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.categories[categoryID]
	if !ok {
		return apperrors.ErrNotFound
	}
	c.Name = name
	c.UpdatedAt = r.s.tick()
	return nil
}

func (r *memCategoryRepo) DeleteSubtree(_ context.Context, categoryID uuid.UUID) (*models.CategoryDeletion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.categories[categoryID]; !ok {
		return nil, apperrors.ErrNotFound
	}

	ids := []uuid.UUID{categoryID}
	for i := 0; i < len(ids); i++ {
		for _, c := range r.s.categories {
			if c.ParentID != nil && *c.ParentID == ids[i] {
				ids = append(ids, c.ID)
			}
		}
	}

	deletion := &models.CategoryDeletion{CategoryIDs: ids}
	for _, id := range ids {
		deletion.InfluencesRemoved += r.s.dropInfluencesOf(id)
		delete(r.s.categories, id)
		deletion.CategoriesRemoved++
	}
	return deletion, nil
}

// --- influences ---

type memInfluenceRepo struct {
	s *memStore

	// replaceErr, when set, fails ReplaceAll for that category.
	replaceErr map[uuid.UUID]error
}

var _ repositories.InfluenceRepository = (*memInfluenceRepo)(nil)

// insert stores a copy. Caller holds mu.
func (r *memInfluenceRepo) insert(inf *models.Influence) error {
	if _, ok := r.s.categories[inf.CategoryID]; !ok {
		return apperrors.ErrNotFound
	}
	if inf.ID == uuid.Nil {
		inf.ID = uuid.New()
	}
	if _, dup := r.s.influences[inf.ID]; dup {
		return apperrors.ErrConflict
	}
	if inf.MoodTags == nil {
		inf.MoodTags = []string{}
	}
	inf.Alignment = models.ClampAlignment(inf.Alignment)
	now := r.s.tick()
	inf.CreatedAt, inf.UpdatedAt = now, now
	r.s.influences[inf.ID] = copyInfluence(inf)
	return nil
}

func (r *memInfluenceRepo) Create(_ context.Context, influence *models.Influence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.insert(influence)
}

func (r *memInfluenceRepo) CreateMany(_ context.Context, influences []*models.Influence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, inf := range influences {
		if err := r.insert(inf); err != nil {
			return err
		}
	}
	return nil
}

func (r *memInfluenceRepo) GetByID(_ context.Context, influenceID uuid.UUID) (*models.Influence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inf, ok := r.s.influences[influenceID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyInfluence(inf), nil
}

func (r *memInfluenceRepo) ListByCategory(ctx context.Context, categoryID uuid.UUID) ([]*models.Influence, error) {
	return r.ListByCategories(ctx, []uuid.UUID{categoryID})
}

func (r *memInfluenceRepo) ListByCategories(_ context.Context, categoryIDs []uuid.UUID) ([]*models.Influence, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.Influence
	for _, inf := range r.s.influences {
		if slices.Contains(categoryIDs, inf.CategoryID) {
			out = append(out, copyInfluence(inf))
		}
	}
	slices.SortFunc(out, func(a, b *models.Influence) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (r *memInfluenceRepo) UpdateAlignment(_ context.Context, influenceID uuid.UUID, alignment float64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inf, ok := r.s.influences[influenceID]
	if !ok {
		return apperrors.ErrNotFound
	}
	inf.Alignment = alignment
	inf.UpdatedAt = r.s.tick()
	return nil
}

func (r *memInfluenceRepo) UpdateName(_ context.Context, influenceID uuid.UUID, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	inf, ok := r.s.influences[influenceID]
	if !ok {
		return apperrors.ErrNotFound
	}
	inf.Name = name
	inf.UpdatedAt = r.s.tick()
	return nil
}

func (r *memInfluenceRepo) Delete(_ context.Context, influenceID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.influences[influenceID]; !ok {
		return apperrors.ErrNotFound
	}
	delete(r.s.influences, influenceID)
	return nil
}

func (r *memInfluenceRepo) SetPositions(_ context.Context, categoryID uuid.UUID, orderedIDs []uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i, id := range orderedIDs {
		inf, ok := r.s.influences[id]
		if !ok || inf.CategoryID != categoryID {
			return apperrors.ErrNotFound
		}
		inf.Position = i
	}
	return nil
}

func (r *memInfluenceRepo) ReplaceAll(_ context.Context, categoryID uuid.UUID, influences []*models.Influence) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.replaceErr[categoryID]; err != nil {
		return err
	}
	r.s.dropInfluencesOf(categoryID)
	for i, inf := range influences {
		inf.CategoryID = categoryID
		inf.Position = i
		if err := r.insert(inf); err != nil {
			return err
		}
	}
	return nil
}

func (r *memInfluenceRepo) Fingerprint(_ context.Context, identityID uuid.UUID) (*repositories.TreeFingerprint, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	fp := &repositories.TreeFingerprint{}
	for _, c := range r.s.categories {
		if c.IdentityID != identityID {
			continue
		}
		fp.Categories++
		if c.UpdatedAt.After(fp.LastModified) {
			fp.LastModified = c.UpdatedAt
		}
	}
	for _, inf := range r.s.influences {
		c, ok := r.s.categories[inf.CategoryID]
		if !ok || c.IdentityID != identityID {
			continue
		}
		fp.Influences++
		if inf.UpdatedAt.After(fp.LastModified) {
			fp.LastModified = inf.UpdatedAt
		}
	}
	return fp, nil
}

// passthroughTransactor runs fn directly. The in-memory store has no rollback,
// so tests never rely on partial writes being undone.
type passthroughTransactor struct{}

func (passthroughTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// testEngine wires every service over one memStore.
type testEngine struct {
	store        *memStore
	identityRepo *memIdentityRepo
	categoryRepo *memCategoryRepo
	infRepo      *memInfluenceRepo

	tree        TreeService
	ledger      LedgerService
	aggregator  AggregatorService
	preferences PreferenceService
	identities  IdentityService
	interests   AddInterestService
	cache       *MemorySummaryCache
	classifier  Classifier
}

func newTestEngine(t *testing.T) *testEngine {
	return newTestEngineWithClassifier(t, NewStubClassifier())
}

func newTestEngineWithClassifier(t *testing.T, classifier Classifier) *testEngine {
	t.Helper()
	return newTestEngineWithDepth(t, classifier, 0)
}

// newTestEngineWithDepth wires every service with the same depth limit;
// zero means the default.
func newTestEngineWithDepth(t *testing.T, classifier Classifier, maxDepth int) *testEngine {
	t.Helper()
	logger := zap.NewNop()
	store := newMemStore()
	e := &testEngine{
		store:        store,
		identityRepo: &memIdentityRepo{s: store},
		categoryRepo: &memCategoryRepo{s: store},
		infRepo:      &memInfluenceRepo{s: store},
		cache:        NewMemorySummaryCache(16),
		classifier:   classifier,
	}
	tx := passthroughTransactor{}
	e.tree = NewTreeService(e.identityRepo, e.categoryRepo, maxDepth, logger)
	e.ledger = NewLedgerService(e.categoryRepo, e.infRepo, tx, logger)
	e.aggregator = NewAggregatorService(e.categoryRepo, e.infRepo, e.tree, e.ledger, tx, maxDepth, logger)
	e.preferences = NewPreferenceService(e.identityRepo, e.categoryRepo, e.infRepo, e.tree, e.aggregator,
		e.cache, 60, maxDepth, time.Hour, logger)
	e.identities = NewIdentityService(e.identityRepo, e.categoryRepo, e.infRepo, tx, logger)
	e.interests = NewAddInterestService(e.identityRepo, e.tree, e.ledger, classifier, tx, maxDepth, logger)
	return e
}

func (e *testEngine) identity(t *testing.T, userID uuid.UUID, name string) *models.Identity {
	t.Helper()
	identity, err := e.identities.Create(context.Background(), userID, &models.Identity{Name: name})
	require.NoError(t, err)
	return identity
}

func (e *testEngine) category(t *testing.T, identityID uuid.UUID, parent *models.Category, name string) *models.Category {
	t.Helper()
	var parentID *uuid.UUID
	if parent != nil {
		parentID = &parent.ID
	}
	c, err := e.tree.CreateCategory(context.Background(), identityID, parentID, name, "")
	require.NoError(t, err)
	return c
}

func (e *testEngine) influence(t *testing.T, categoryID uuid.UUID, name string, alignment float64) *models.Influence {
	t.Helper()
	inf, err := e.ledger.InsertAt(context.Background(), categoryID, &models.Influence{Name: name, Alignment: alignment}, EndOfList)
	require.NoError(t, err)
	return inf
}

func (e *testEngine) names(t *testing.T, categoryID uuid.UUID) []string {
	t.Helper()
	list, err := e.ledger.List(context.Background(), categoryID)
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, inf := range list {
		out[i] = inf.Name
	}
	return out
}

func (e *testEngine) positions(t *testing.T, categoryID uuid.UUID) []int {
	t.Helper()
	list, err := e.ledger.List(context.Background(), categoryID)
	require.NoError(t, err)
	out := make([]int, len(list))
	for i, inf := range list {
		out[i] = inf.Position
	}
	return out
}

// failingClassifier always reports the collaborator as unavailable.
type failingClassifier struct{ calls int }

func (f *failingClassifier) Categorize(context.Context, *models.CategorizeRequest) (*models.CategorizeResult, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func (f *failingClassifier) Suggest(context.Context, *models.SuggestRequest) (*models.SuggestResult, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

// fixedClassifier returns canned answers.
type fixedClassifier struct {
	result      *models.CategorizeResult
	suggestions []models.CategorySuggestion
	lastRequest *models.CategorizeRequest
}

func (f *fixedClassifier) Categorize(_ context.Context, req *models.CategorizeRequest) (*models.CategorizeResult, error) {
	f.lastRequest = req
	r := *f.result
	return &r, nil
}

func (f *fixedClassifier) Suggest(context.Context, *models.SuggestRequest) (*models.SuggestResult, error) {
	return &models.SuggestResult{Suggestions: f.suggestions}, nil
}
