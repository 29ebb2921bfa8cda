package models

import (
	"time"

	"github.com/google/uuid"
)

// Identity is a named persona owned by a user. Each identity owns one preference tree.
// Stored in engine_identities table.
type Identity struct {
	ID     uuid.UUID `json:"id"`
	UserID uuid.UUID `json:"user_id"`
	Name   string    `json:"name"`
	IsBase bool      `json:"is_base"`

	Location *Location `json:"location,omitempty"`

	// PhysicalAttributes is free-form and never interpreted by the engine.
	PhysicalAttributes map[string]string `json:"physical_attributes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Location is the optional home location of an identity.
type Location struct {
	City    string `json:"city,omitempty"`
	State   string `json:"state,omitempty"`
	Country string `json:"country,omitempty"`
}

// IsEmpty reports whether no location field is set.
func (l *Location) IsEmpty() bool {
	return l == nil || (l.City == "" && l.State == "" && l.Country == "")
}
