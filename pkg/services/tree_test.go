package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

func TestTreeService_CreateCategory_Levels(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")

	music := e.category(t, identity.ID, nil, "Music")
	jazz := e.category(t, identity.ID, music, "Jazz")
	bebop := e.category(t, identity.ID, jazz, "Bebop")

	assert.Equal(t, 1, music.Level)
	assert.Nil(t, music.ParentID)
	assert.Equal(t, models.DefaultCategoryType, music.Type)
	assert.Equal(t, 2, jazz.Level)
	assert.Equal(t, music.ID, *jazz.ParentID)
	assert.Equal(t, 3, bebop.Level)
}

func TestTreeService_CreateCategory_InvalidParent(t *testing.T) {
	e := newTestEngine(t)
	userID := uuid.New()
	me := e.identity(t, userID, "Me")
	work := e.identity(t, userID, "Work")
	foreign := e.category(t, work.ID, nil, "Food")

	missing := uuid.New()
	_, err := e.tree.CreateCategory(context.Background(), me.ID, &missing, "Jazz", "music")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParent)

	_, err = e.tree.CreateCategory(context.Background(), me.ID, &foreign.ID, "Pizza", "food")
	assert.ErrorIs(t, err, apperrors.ErrInvalidParent)
}

func TestTreeService_CreateCategory_Validation(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")

	_, err := e.tree.CreateCategory(context.Background(), identity.ID, nil, "   ", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = e.tree.CreateCategory(context.Background(), uuid.New(), nil, "Music", "")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTreeService_CreateCategory_MaxDepth(t *testing.T) {
	e := newTestEngine(t)
	tree := NewTreeService(e.identityRepo, e.categoryRepo, 2, zap.NewNop())
	identity := e.identity(t, uuid.New(), "Me")

	root, err := tree.CreateCategory(context.Background(), identity.ID, nil, "A", "")
	require.NoError(t, err)
	child, err := tree.CreateCategory(context.Background(), identity.ID, &root.ID, "B", "")
	require.NoError(t, err)

	_, err = tree.CreateCategory(context.Background(), identity.ID, &child.ID, "C", "")
	assert.ErrorIs(t, err, apperrors.ErrMaxDepthExceeded)
}

func TestTreeService_DeleteCategory_CascadesSubtree(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")

	music := e.category(t, identity.ID, nil, "Music")
	jazz := e.category(t, identity.ID, music, "Jazz")
	bebop := e.category(t, identity.ID, jazz, "Bebop")
	food := e.category(t, identity.ID, nil, "Food")

	e.influence(t, music.ID, "Radiohead", 100)
	e.influence(t, jazz.ID, "Coltrane", 90)
	e.influence(t, bebop.ID, "Parker", 80)
	e.influence(t, food.ID, "Ramen", 70)

	deletion, err := e.tree.DeleteCategory(context.Background(), music.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, deletion.CategoriesRemoved)
	assert.EqualValues(t, 3, deletion.InfluencesRemoved)

	for _, id := range []uuid.UUID{music.ID, jazz.ID, bebop.ID} {
		_, err := e.tree.GetCategory(context.Background(), id)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	for _, inf := range e.store.influences {
		assert.Equal(t, food.ID, inf.CategoryID, "no influence may point into the deleted subtree")
	}

	_, err = e.tree.DeleteCategory(context.Background(), music.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestTreeService_ListTree(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")

	music := e.category(t, identity.ID, nil, "Music")
	e.category(t, identity.ID, music, "Jazz")
	e.category(t, identity.ID, music, "Rock")
	e.category(t, identity.ID, nil, "Food")

	roots, err := e.tree.ListTree(context.Background(), identity.ID)
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "Music", roots[0].Name)
	require.Len(t, roots[0].Subcategories, 2)
	assert.Equal(t, "Jazz", roots[0].Subcategories[0].Name)
	assert.Equal(t, "Rock", roots[0].Subcategories[1].Name)
	assert.Equal(t, "Food", roots[1].Name)
	assert.Empty(t, roots[1].Subcategories)
}

func TestTreeService_FlattenTree(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")

	music := e.category(t, identity.ID, nil, "Music")
	e.category(t, identity.ID, music, "Jazz")

	flat, err := e.tree.FlattenTree(context.Background(), identity.ID)
	require.NoError(t, err)
	require.Len(t, flat, 2)
	assert.Equal(t, "Music", flat[0].Label)
	assert.Equal(t, "  Jazz", flat[1].Label)
	assert.Equal(t, "Music > Jazz", flat[1].Path)
}

func TestTreeService_LoadTree_LogsOrphans(t *testing.T) {
	e := newTestEngine(t)
	core, logs := observer.New(zapcore.WarnLevel)
	tree := NewTreeService(e.identityRepo, e.categoryRepo, 0, zap.New(core))
	identity := e.identity(t, uuid.New(), "Me")

	music := e.category(t, identity.ID, nil, "Music")
	jazz := e.category(t, identity.ID, music, "Jazz")

	// Corrupt the stored parent link.
	dangling := uuid.New()
	e.store.categories[jazz.ID].ParentID = &dangling

	loaded, err := tree.LoadTree(context.Background(), identity.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Roots(), 2, "orphan is shown as a root")
	require.Len(t, loaded.Forest.Orphans, 1)
	assert.Equal(t, jazz.ID, loaded.Forest.Orphans[0].ID)
	assert.Equal(t, 1, logs.FilterMessage("Orphaned category treated as root").Len())
}

func TestTreeService_RenameCategory(t *testing.T) {
	e := newTestEngine(t)
	identity := e.identity(t, uuid.New(), "Me")
	music := e.category(t, identity.ID, nil, "Music")

	renamed, err := e.tree.RenameCategory(context.Background(), music.ID, " Tunes ")
	require.NoError(t, err)
	assert.Equal(t, music.ID, renamed.ID)
	assert.Equal(t, "Tunes", renamed.Name)

	_, err = e.tree.RenameCategory(context.Background(), music.ID, "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
