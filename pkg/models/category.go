package models

import (
	"time"

	"github.com/google/uuid"
)

// DefaultCategoryType is used when neither the user nor the classifier supplies a type.
const DefaultCategoryType = "custom"

// Category is a named node in an identity's preference tree.
// Stored in engine_categories table.
type Category struct {
	ID         uuid.UUID  `json:"id"`
	IdentityID uuid.UUID  `json:"identity_id"`
	ParentID   *uuid.UUID `json:"parent_id,omitempty"` // nil for roots
	Name       string     `json:"name"`

	// Type is an open tag ("music", "food", "custom") used for icons and suggestion hints only.
	Type string `json:"type"`

	// Level is the cached depth: 1 for roots, parent.Level+1 otherwise.
	Level int `json:"level"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Subcategories is populated when the tree is assembled; not persisted.
	Subcategories []*Category `json:"subcategories,omitempty"`
}

// IsRoot reports whether the category has no parent.
func (c *Category) IsRoot() bool {
	return c.ParentID == nil
}

// CategoryDeletion reports what a cascading delete removed.
type CategoryDeletion struct {
	CategoryIDs       []uuid.UUID `json:"category_ids"`
	InfluencesRemoved int64       `json:"influences_removed"`
	CategoriesRemoved int64       `json:"categories_removed"`
}
