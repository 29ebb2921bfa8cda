package preference

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

func influence(owner *models.Category, name string, alignment float64, pos int) *models.Influence {
	return &models.Influence{ID: uuid.New(), CategoryID: owner.ID, Name: name, Alignment: alignment, Position: pos}
}

func aggregatedNames(items []AggregatedInfluence) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Name
	}
	return out
}

func TestAggregate_LeafIsOwnList(t *testing.T) {
	leaf := category("Jazz", nil)
	// Stored out of order; aggregate must follow position.
	byCategory := map[uuid.UUID][]*models.Influence{
		leaf.ID: {
			influence(leaf, "Coltrane", 80, 1),
			influence(leaf, "Monk", 90, 0),
			influence(leaf, "Mingus", 70, 2),
		},
	}

	got, err := Aggregate(leaf, byCategory, DefaultMaxDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{"Monk", "Coltrane", "Mingus"}, aggregatedNames(got))
	for _, it := range got {
		assert.Equal(t, leaf.ID, it.OwnerCategoryID)
	}
}

func TestAggregate_RootWithTwoChildren(t *testing.T) {
	root := category("Music", nil)
	c1 := category("C1", root)
	c2 := category("C2", root)
	BuildForest([]*models.Category{root, c1, c2})

	byCategory := map[uuid.UUID][]*models.Influence{
		c1.ID: {influence(c1, "A", 90, 0), influence(c1, "B", 50, 1)},
		c2.ID: {influence(c2, "D", 70, 0)},
	}

	got, err := Aggregate(root, byCategory, DefaultMaxDepth)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"A", "B", "D"}, aggregatedNames(got))

	// C1's internal order is preserved.
	idxA, idxB := -1, -1
	for i, it := range got {
		switch it.Name {
		case "A":
			idxA = i
			assert.Equal(t, c1.ID, it.OwnerCategoryID)
		case "B":
			idxB = i
		case "D":
			assert.Equal(t, c2.ID, it.OwnerCategoryID)
		}
	}
	assert.Less(t, idxA, idxB)

	p := Partition(got, DefaultServingThreshold)
	assert.ElementsMatch(t, []string{"A", "D"}, aggregatedNames(p.Served))
	assert.Equal(t, []string{"B"}, aggregatedNames(p.Unserved))
	assert.Equal(t, 2, p.ServedCount)
	assert.Equal(t, 3, p.TotalCount)
}

func TestAggregate_SelfBeforeChildren(t *testing.T) {
	root := category("Music", nil)
	child := category("Jazz", root)
	BuildForest([]*models.Category{root, child})

	byCategory := map[uuid.UUID][]*models.Influence{
		root.ID:  {influence(root, "Own", 60, 0)},
		child.ID: {influence(child, "Nested", 60, 0)},
	}

	got, err := Aggregate(root, byCategory, DefaultMaxDepth)
	require.NoError(t, err)
	assert.Equal(t, []string{"Own", "Nested"}, aggregatedNames(got))
}

func TestAggregate_DepthGuard(t *testing.T) {
	var all []*models.Category
	var parent *models.Category
	for i := 0; i < 3; i++ {
		c := category("n", parent)
		all = append(all, c)
		parent = c
	}
	BuildForest(all)

	_, err := Aggregate(all[0], nil, 2)
	assert.ErrorIs(t, err, apperrors.ErrMaxDepthExceeded)
}

func TestGroupByOwner(t *testing.T) {
	c1 := category("C1", nil)
	c2 := category("C2", nil)
	a := influence(c1, "A", 90, 0)
	b := influence(c1, "B", 50, 1)
	d := influence(c2, "D", 70, 0)

	// Edited aggregated order: D first, then B above A.
	groups := GroupByOwner([]AggregatedInfluence{
		{Influence: d, OwnerCategoryID: c2.ID},
		{Influence: b, OwnerCategoryID: c1.ID},
		{Influence: a, OwnerCategoryID: c1.ID},
	})

	require.Len(t, groups, 2)
	assert.Equal(t, c2.ID, groups[0].CategoryID)
	assert.Equal(t, []string{"D"}, names(groups[0].Influences))
	assert.Equal(t, c1.ID, groups[1].CategoryID)
	assert.Equal(t, []string{"B", "A"}, names(groups[1].Influences))
	assert.True(t, IsDense(groups[1].Influences))
}
