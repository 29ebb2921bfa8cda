package preference

import (
	"cmp"
	"slices"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// DefaultServingThreshold is the alignment at or above which an influence is served.
const DefaultServingThreshold = 60.0

// Servable is anything that can be tested against a serving threshold.
type Servable interface {
	Served(threshold float64) bool
}

// Partitioned is the result of splitting a set at a threshold.
type Partitioned[T Servable] struct {
	Served      []T `json:"served"`
	Unserved    []T `json:"unserved"`
	ServedCount int `json:"served_count"`
	TotalCount  int `json:"total_count"`
}

// Partition splits items into served (alignment >= threshold) and unserved,
// preserving input order in both halves. Both halves are non-nil so they
// encode as [] rather than null.
func Partition[T Servable](items []T, threshold float64) Partitioned[T] {
	p := Partitioned[T]{Served: []T{}, Unserved: []T{}, TotalCount: len(items)}
	for _, it := range items {
		if it.Served(threshold) {
			p.Served = append(p.Served, it)
		} else {
			p.Unserved = append(p.Unserved, it)
		}
	}
	p.ServedCount = len(p.Served)
	return p
}

// RankServed returns the served influences as name/alignment pairs sorted by
// alignment descending. Equal alignments keep input order.
func RankServed(influences []*models.Influence, threshold float64) []models.ServedPreference {
	served := Partition(influences, threshold).Served
	out := make([]models.ServedPreference, 0, len(served))
	for _, inf := range served {
		out = append(out, models.ServedPreference{Name: inf.Name, Alignment: inf.Alignment})
	}
	slices.SortStableFunc(out, func(a, b models.ServedPreference) int {
		return cmp.Compare(b.Alignment, a.Alignment)
	})
	return out
}
