package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/repositories"
)

func TestPreferenceService_Served_WholeIdentity(t *testing.T) {
	e := newTestEngine(t)
	music, _, _, _ := musicTree(t, e)

	served, err := e.preferences.Served(context.Background(), music.IdentityID, nil)
	require.NoError(t, err)

	// A=90, C=70, D=65 meet the threshold; B=40 and E=20 do not.
	assert.Equal(t, []models.ServedPreference{
		{Name: "A", Alignment: 90},
		{Name: "C", Alignment: 70},
		{Name: "D", Alignment: 65},
	}, served)
}

func TestPreferenceService_Served_ThresholdIsInclusive(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")
	food := e.category(t, identity.ID, nil, "Food")
	e.influence(t, food.ID, "Edge", 60)
	e.influence(t, food.ID, "Below", 59.9)

	served, err := e.preferences.Served(context.Background(), identity.ID, &food.ID)
	require.NoError(t, err)
	require.Len(t, served, 1)
	assert.Equal(t, "Edge", served[0].Name)
}

func TestPreferenceService_Served_CategoryScope(t *testing.T) {
	e := newTestEngine(t)
	_, jazz, _, _ := musicTree(t, e)

	served, err := e.preferences.Served(context.Background(), jazz.IdentityID, &jazz.ID)
	require.NoError(t, err)
	assert.Equal(t, []models.ServedPreference{
		{Name: "C", Alignment: 70},
		{Name: "D", Alignment: 65},
	}, served)

	other := e.identity(t, uuid.New(), "Other")
	_, err = e.preferences.Served(context.Background(), other.ID, &jazz.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "category of another identity")

	_, err = e.preferences.Served(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestPreferenceService_Partition(t *testing.T) {
	e := newTestEngine(t)
	music, _, _, _ := musicTree(t, e)

	p, err := e.preferences.Partition(context.Background(), music.IdentityID, &music.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, p.TotalCount)
	assert.Equal(t, 3, p.ServedCount)
	assert.Len(t, p.Unserved, 2)
}

func TestPreferenceService_Summary(t *testing.T) {
	e := newTestEngine(t)
	music, _, _, _ := musicTree(t, e)
	food := e.category(t, music.IdentityID, nil, "Food")
	e.influence(t, food.ID, "Ramen", 80)

	summary, err := e.preferences.Summary(context.Background(), music.IdentityID)
	require.NoError(t, err)

	assert.Equal(t, 6, summary.TotalCount)
	assert.Equal(t, 4, summary.ServedCount)
	require.Len(t, summary.Categories, 2)

	musicSummary := summary.Categories[0]
	assert.Equal(t, "Music", musicSummary.Name)
	assert.Equal(t, 5, musicSummary.TotalCount)
	assert.Equal(t, 3, musicSummary.ServedCount)
	assert.Equal(t, 1, musicSummary.Tiers[models.TierStrong])
	assert.Equal(t, 2, musicSummary.Tiers[models.TierGood])
	assert.Equal(t, 1, musicSummary.Tiers[models.TierWeak])
	assert.Equal(t, 1, musicSummary.Tiers[models.TierDistaste])
	assert.Equal(t, "A", musicSummary.Top[0].Name)

	assert.Equal(t, "Food", summary.Categories[1].Name)
	assert.NotEmpty(t, summary.CacheKey)
}

// countingCache records how often the summary was served from cache.
type countingCache struct {
	*MemorySummaryCache
	hits, sets int
	getErr     error
}

func (c *countingCache) Get(ctx context.Context, key string) (*models.PreferenceSummary, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	s, ok, err := c.MemorySummaryCache.Get(ctx, key)
	if ok {
		c.hits++
	}
	return s, ok, err
}

func (c *countingCache) Set(ctx context.Context, key string, s *models.PreferenceSummary, ttl time.Duration) error {
	c.sets++
	return c.MemorySummaryCache.Set(ctx, key, s, ttl)
}

func TestPreferenceService_Summary_CacheKeyedByFingerprint(t *testing.T) {
	e := newTestEngine(t)
	music, _, _, _ := musicTree(t, e)
	cache := &countingCache{MemorySummaryCache: NewMemorySummaryCache(8)}
	svc := NewPreferenceService(e.identityRepo, e.categoryRepo, e.infRepo, e.tree, e.aggregator,
		cache, 60, 0, time.Hour, zap.NewNop())
	ctx := context.Background()

	first, err := svc.Summary(ctx, music.IdentityID)
	require.NoError(t, err)
	second, err := svc.Summary(ctx, music.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)
	assert.Equal(t, 1, cache.sets)
	assert.Equal(t, first.CacheKey, second.CacheKey)

	// Any write changes the fingerprint, so the next read recomputes.
	e.influence(t, music.ID, "New", 99)
	third, err := svc.Summary(ctx, music.IdentityID)
	require.NoError(t, err)
	assert.NotEqual(t, first.CacheKey, third.CacheKey)
	assert.Equal(t, 2, cache.sets)
	assert.Equal(t, 6, third.TotalCount)
}

func TestPreferenceService_Summary_CacheFailureFallsThrough(t *testing.T) {
	e := newTestEngine(t)
	music, _, _, _ := musicTree(t, e)
	cache := &countingCache{MemorySummaryCache: NewMemorySummaryCache(8), getErr: errors.New("redis down")}
	svc := NewPreferenceService(e.identityRepo, e.categoryRepo, e.infRepo, e.tree, e.aggregator,
		cache, 60, 0, time.Hour, zap.NewNop())

	summary, err := svc.Summary(context.Background(), music.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalCount)
}

func TestMemorySummaryCache_ExpiryAndBound(t *testing.T) {
	cache := NewMemorySummaryCache(2)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", &models.PreferenceSummary{TotalCount: 1}, time.Minute))
	require.NoError(t, cache.Set(ctx, "b", &models.PreferenceSummary{TotalCount: 2}, time.Hour))

	got, ok, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, got.TotalCount)

	// A third key evicts the entry closest to expiry.
	require.NoError(t, cache.Set(ctx, "c", &models.PreferenceSummary{TotalCount: 3}, time.Hour))
	assert.Equal(t, 2, cache.Len())
	_, ok, _ = cache.Get(ctx, "a")
	assert.False(t, ok)

	now = now.Add(2 * time.Hour)
	_, ok, _ = cache.Get(ctx, "b")
	assert.False(t, ok, "expired entries are not returned")
}

// ctxCheckingCategoryRepo fails reads on a cancelled context, as pgx does.
type ctxCheckingCategoryRepo struct {
	repositories.CategoryRepository
}

func (r ctxCheckingCategoryRepo) ListByIdentity(ctx context.Context, identityID uuid.UUID) ([]*models.Category, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.CategoryRepository.ListByIdentity(ctx, identityID)
}

func TestPreferenceService_Summary_SharedBuildIgnoresCallerCancellation(t *testing.T) {
	e := newTestEngine(t)
	music, _, _, _ := musicTree(t, e)

	categories := ctxCheckingCategoryRepo{CategoryRepository: e.categoryRepo}
	tree := NewTreeService(e.identityRepo, categories, 0, zap.NewNop())
	svc := NewPreferenceService(e.identityRepo, categories, e.infRepo, tree, e.aggregator,
		NewMemorySummaryCache(8), 60, 0, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := svc.Summary(ctx, music.IdentityID)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalCount)
}
