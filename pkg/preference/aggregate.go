package preference

import (
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// AggregatedInfluence is an influence seen from an ancestor, tagged with the
// category that actually owns it.
type AggregatedInfluence struct {
	*models.Influence
	OwnerCategoryID uuid.UUID `json:"owner_category_id"`
}

// Aggregate returns the influences of root followed by those of each child
// subtree, depth-first. Influences within one category keep position order.
// byCategory holds each category's influences; lists are sorted on a copy.
// Subtrees deeper than maxDepth below root fail with ErrMaxDepthExceeded.
func Aggregate(root *models.Category, byCategory map[uuid.UUID][]*models.Influence, maxDepth int) ([]AggregatedInfluence, error) {
	var out []AggregatedInfluence
	var walk func(node *models.Category, depth int) error
	walk = func(node *models.Category, depth int) error {
		if depth > maxDepth {
			return fmt.Errorf("aggregate %s below depth %d: %w", node.ID, maxDepth, apperrors.ErrMaxDepthExceeded)
		}
		own := slices.Clone(byCategory[node.ID])
		SortByPosition(own)
		for _, inf := range own {
			out = append(out, AggregatedInfluence{Influence: inf, OwnerCategoryID: node.ID})
		}
		for _, child := range node.Subcategories {
			if err := walk(child, depth+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root, 1); err != nil {
		return nil, err
	}
	return out, nil
}

// OwnerGroup is the slice of an aggregated edit that belongs to one category.
type OwnerGroup struct {
	CategoryID uuid.UUID
	Influences []*models.Influence
}

// GroupByOwner splits an aggregated list by owning category, preserving the
// relative order of each owner's items, and reindexes every group from zero.
// Groups are returned in order of first appearance.
func GroupByOwner(items []AggregatedInfluence) []OwnerGroup {
	index := make(map[uuid.UUID]int)
	var groups []OwnerGroup
	for _, it := range items {
		i, ok := index[it.OwnerCategoryID]
		if !ok {
			i = len(groups)
			index[it.OwnerCategoryID] = i
			groups = append(groups, OwnerGroup{CategoryID: it.OwnerCategoryID})
		}
		it.Influence.CategoryID = it.OwnerCategoryID
		groups[i].Influences = append(groups[i].Influences, it.Influence)
	}
	for i := range groups {
		Reindex(groups[i].Influences)
	}
	return groups
}
