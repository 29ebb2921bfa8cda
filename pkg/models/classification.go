package models

import "github.com/google/uuid"

// CategoryOption is an existing category offered to the classifier as a candidate.
type CategoryOption struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Type string    `json:"type"`
	Path string    `json:"path"` // "Music > Jazz"
}

// CategorizeRequest asks the classifier where free text belongs.
type CategorizeRequest struct {
	Text               string           `json:"text"`
	IdentityID         uuid.UUID        `json:"identityId"`
	SourceCategoryHint string           `json:"sourceCategoryHint,omitempty"`
	Categories         []CategoryOption `json:"categories,omitempty"`
}

// CategorizeResult is the classifier's answer. A nil CategoryID with IsNew set
// proposes a new root category named Category.
type CategorizeResult struct {
	Category      string     `json:"category"`
	CategoryID    *uuid.UUID `json:"categoryId"`
	IsNew         bool       `json:"isNew"`
	SuggestedType string     `json:"suggestedType"`
}

// SuggestRequest asks for new category ideas, optionally under a parent.
type SuggestRequest struct {
	IdentityID         uuid.UUID  `json:"identityId"`
	ParentCategoryID   *uuid.UUID `json:"parentCategoryId,omitempty"`
	ParentCategoryName string     `json:"parentCategoryName,omitempty"`
	Existing           []string   `json:"existing,omitempty"`
}

// CategorySuggestion is one suggested category.
type CategorySuggestion struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
	Type   string `json:"type"`
}

// SuggestResult is the classifier's list of suggestions.
type SuggestResult struct {
	Suggestions []CategorySuggestion `json:"suggestions"`
}
