package preference

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-identity/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// DefaultMaxDepth bounds recursion over category trees.
const DefaultMaxDepth = 10

// Forest is an assembled category tree plus the integrity problems found while assembling it.
type Forest struct {
	Roots []*models.Category

	// Orphans had a parent_id that did not resolve; they are included in Roots.
	Orphans []*models.Category
	// LevelDrift lists nodes whose cached level disagrees with their depth in the forest.
	LevelDrift []*models.Category
	// Unreachable nodes are not attached below any root (only possible with corrupt parent links).
	Unreachable []*models.Category
}

// BuildForest assembles flat categories into a forest in O(n): one pass to index
// by id, one pass to attach each node to its parent (or to the roots).
// Sibling order follows input order. Subcategories of the inputs are overwritten.
func BuildForest(categories []*models.Category) *Forest {
	byID := make(map[uuid.UUID]*models.Category, len(categories))
	for _, c := range categories {
		c.Subcategories = nil
		byID[c.ID] = c
	}

	f := &Forest{}
	for _, c := range categories {
		if c.ParentID == nil {
			f.Roots = append(f.Roots, c)
			continue
		}
		parent, ok := byID[*c.ParentID]
		if !ok || parent == c {
			f.Orphans = append(f.Orphans, c)
			f.Roots = append(f.Roots, c)
			continue
		}
		parent.Subcategories = append(parent.Subcategories, c)
	}

	// Breadth-first walk to check cached levels without recursion.
	type item struct {
		node  *models.Category
		depth int
	}
	visited := make(map[uuid.UUID]bool, len(categories))
	queue := make([]item, 0, len(f.Roots))
	for _, r := range f.Roots {
		queue = append(queue, item{r, 1})
	}
	for len(queue) > 0 {
		it := queue[0]
		queue = queue[1:]
		if visited[it.node.ID] {
			continue
		}
		visited[it.node.ID] = true
		if it.node.Level != it.depth {
			f.LevelDrift = append(f.LevelDrift, it.node)
		}
		for _, child := range it.node.Subcategories {
			queue = append(queue, item{child, it.depth + 1})
		}
	}
	for _, c := range categories {
		if !visited[c.ID] {
			f.Unreachable = append(f.Unreachable, c)
		}
	}

	return f
}

// FlatCategory is one row of a depth-first flattened tree, used by pickers.
type FlatCategory struct {
	Category *models.Category `json:"category"`
	Depth    int              `json:"depth"`
	Label    string           `json:"label"` // name indented two spaces per level below the root
	Path     string           `json:"path"`  // "Music > Jazz"
}

// Flatten walks the forest depth-first (parent before children).
func Flatten(roots []*models.Category, maxDepth int) ([]FlatCategory, error) {
	var out []FlatCategory
	var walk func(nodes []*models.Category, depth int, prefix string) error
	walk = func(nodes []*models.Category, depth int, prefix string) error {
		if len(nodes) == 0 {
			return nil
		}
		if depth > maxDepth {
			return fmt.Errorf("flatten below depth %d: %w", maxDepth, apperrors.ErrMaxDepthExceeded)
		}
		for _, n := range nodes {
			path := n.Name
			if prefix != "" {
				path = prefix + " > " + n.Name
			}
			out = append(out, FlatCategory{
				Category: n,
				Depth:    depth,
				Label:    strings.Repeat("  ", depth-1) + n.Name,
				Path:     path,
			})
			if err := walk(n.Subcategories, depth+1, path); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(roots, 1, ""); err != nil {
		return nil, err
	}
	return out, nil
}

// Find returns the node with the given id, searching depth-first.
func Find(roots []*models.Category, id uuid.UUID) *models.Category {
	stack := append([]*models.Category(nil), roots...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.ID == id {
			return n
		}
		stack = append(stack, n.Subcategories...)
	}
	return nil
}

// SubtreeIDs returns the ids of node and all of its descendants.
func SubtreeIDs(node *models.Category) []uuid.UUID {
	var ids []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	stack := []*models.Category{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		ids = append(ids, n.ID)
		stack = append(stack, n.Subcategories...)
	}
	return ids
}
