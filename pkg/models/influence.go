package models

import (
	"time"

	"github.com/google/uuid"
)

// Alignment bounds and the defaults used by the add-interest flow.
const (
	MinAlignment = 0.0
	MaxAlignment = 100.0

	DefaultAlignment         = 85.0
	DefaultDistasteAlignment = 0.0
)

// Influence is a ranked, weighted preference item owned by exactly one category.
// Stored in engine_influences table.
type Influence struct {
	ID         uuid.UUID `json:"id"`
	CategoryID uuid.UUID `json:"category_id"`
	Name       string    `json:"name"`
	Alignment  float64   `json:"alignment"` // clamped to [0,100]
	Position   int       `json:"position"`  // 0 = highest priority, dense per category
	MoodTags   []string  `json:"mood_tags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Served reports whether the influence meets the serving threshold.
func (i *Influence) Served(threshold float64) bool {
	return i.Alignment >= threshold
}

// Clone returns a copy with a nil ID, suitable for inserting elsewhere.
func (i *Influence) Clone() *Influence {
	c := *i
	c.ID = uuid.Nil
	c.MoodTags = append([]string(nil), i.MoodTags...)
	return &c
}

// ClampAlignment bounds v to [0,100]. Sliders can transiently overshoot, so
// out-of-range input is clamped rather than rejected.
func ClampAlignment(v float64) float64 {
	switch {
	case v < MinAlignment:
		return MinAlignment
	case v > MaxAlignment:
		return MaxAlignment
	default:
		return v
	}
}

// AlignmentTier is a coarse display label for an alignment value.
type AlignmentTier string

const (
	TierStrong       AlignmentTier = "strong"
	TierGood         AlignmentTier = "good"
	TierModerate     AlignmentTier = "moderate"
	TierWeakPositive AlignmentTier = "weak-positive"
	TierWeak         AlignmentTier = "weak"
	TierDistaste     AlignmentTier = "distaste"
)

// Tier maps an alignment to its display tier. Display only; never stored.
func Tier(alignment float64) AlignmentTier {
	switch {
	case alignment >= 75:
		return TierStrong
	case alignment >= 60:
		return TierGood
	case alignment >= 50:
		return TierModerate
	case alignment >= 45:
		return TierWeakPositive
	case alignment >= 25:
		return TierWeak
	default:
		return TierDistaste
	}
}
