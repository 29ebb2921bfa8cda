package models

import "github.com/google/uuid"

// ServedPreference is the read shape handed to recommendation engines.
type ServedPreference struct {
	Name      string  `json:"name"`
	Alignment float64 `json:"alignment"`
}

// CategorySummary describes one root category of an identity's tree.
type CategorySummary struct {
	CategoryID  uuid.UUID             `json:"category_id"`
	Name        string                `json:"name"`
	Type        string                `json:"type"`
	ServedCount int                   `json:"served_count"`
	TotalCount  int                   `json:"total_count"`
	Tiers       map[AlignmentTier]int `json:"tiers"`
	Top         []ServedPreference    `json:"top"`
}

// PreferenceSummary is a derived, cacheable overview of an identity's preferences.
// It is never a source of truth.
type PreferenceSummary struct {
	IdentityID  uuid.UUID         `json:"identity_id"`
	Threshold   float64           `json:"threshold"`
	ServedCount int               `json:"served_count"`
	TotalCount  int               `json:"total_count"`
	Categories  []CategorySummary `json:"categories"`
	CacheKey    string            `json:"cache_key"`
}
