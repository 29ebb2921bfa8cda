//go:build integration

package repositories

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
	"github.com/ekaya-inc/ekaya-identity/pkg/testhelpers"
)

// repoTestContext holds a fresh user plus the three repositories.
type repoTestContext struct {
	t          *testing.T
	engineDB   *testhelpers.EngineDB
	userID     uuid.UUID
	identities IdentityRepository
	categories CategoryRepository
	influences InfluenceRepository
}

func setupRepoTest(t *testing.T) *repoTestContext {
	tc := &repoTestContext{
		t:          t,
		engineDB:   testhelpers.GetEngineDB(t),
		userID:     uuid.New(),
		identities: NewIdentityRepository(),
		categories: NewCategoryRepository(),
		influences: NewInfluenceRepository(),
	}
	t.Cleanup(tc.cleanup)
	return tc
}

// cleanup removes everything the test user owns. Categories and influences cascade.
func (tc *repoTestContext) cleanup() {
	ctx := context.Background()
	scope, err := tc.engineDB.DB.WithoutOwner(ctx)
	if err != nil {
		tc.t.Fatalf("failed to create scope for cleanup: %v", err)
	}
	defer scope.Close()

	_, _ = scope.Conn.Exec(ctx, "DELETE FROM engine_identities WHERE user_id = $1", tc.userID)
}

func (tc *repoTestContext) ctx() (context.Context, func()) {
	return tc.engineDB.OwnerContext(tc.t, tc.userID)
}

func (tc *repoTestContext) createIdentity(ctx context.Context, name string, isBase bool) *models.Identity {
	tc.t.Helper()
	identity := &models.Identity{UserID: tc.userID, Name: name, IsBase: isBase}
	require.NoError(tc.t, tc.identities.Create(ctx, identity))
	return identity
}

func (tc *repoTestContext) createCategory(ctx context.Context, identityID uuid.UUID, parent *models.Category, name string) *models.Category {
	tc.t.Helper()
	category := &models.Category{IdentityID: identityID, Name: name, Level: 1}
	if parent != nil {
		category.ParentID = &parent.ID
		category.Level = parent.Level + 1
	}
	require.NoError(tc.t, tc.categories.Create(ctx, category))
	return category
}

func (tc *repoTestContext) createInfluence(ctx context.Context, categoryID uuid.UUID, name string, alignment float64, position int) *models.Influence {
	tc.t.Helper()
	influence := &models.Influence{CategoryID: categoryID, Name: name, Alignment: alignment, Position: position}
	require.NoError(tc.t, tc.influences.Create(ctx, influence))
	return influence
}

func influenceNames(list []*models.Influence) []string {
	out := make([]string, len(list))
	for i, inf := range list {
		out[i] = inf.Name
	}
	return out
}
