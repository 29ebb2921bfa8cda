package preference

import (
	"slices"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-identity/pkg/models"
)

// ClampPosition bounds an insertion slot to [0, n].
func ClampPosition(pos, n int) int {
	if pos < 0 {
		return 0
	}
	if pos > n {
		return n
	}
	return pos
}

// SortByPosition orders influences by rank. Ties keep their input order.
func SortByPosition(list []*models.Influence) {
	slices.SortStableFunc(list, func(a, b *models.Influence) int {
		return a.Position - b.Position
	})
}

// Reindex assigns Position = index for every influence and returns the list.
func Reindex(list []*models.Influence) []*models.Influence {
	for i, inf := range list {
		inf.Position = i
	}
	return list
}

// InsertAt returns a new list with inf placed at pos (clamped to [0, len(list)]),
// reindexed from zero.
func InsertAt(list []*models.Influence, inf *models.Influence, pos int) []*models.Influence {
	pos = ClampPosition(pos, len(list))
	out := make([]*models.Influence, 0, len(list)+1)
	out = append(out, list[:pos]...)
	out = append(out, inf)
	out = append(out, list[pos:]...)
	return Reindex(out)
}

// Move removes the element at from and reinserts it at to, then reindexes.
// Both indexes are clamped to the list; from == to leaves the order unchanged.
func Move(list []*models.Influence, from, to int) []*models.Influence {
	out := slices.Clone(list)
	if len(out) == 0 {
		return out
	}
	last := len(out) - 1
	from = min(max(from, 0), last)
	to = min(max(to, 0), last)
	if from == to {
		return Reindex(out)
	}

	item := out[from]
	out = slices.Delete(out, from, from+1)
	out = slices.Insert(out, to, item)
	return Reindex(out)
}

// Remove drops the influence with the given id and closes the gap.
// The second return value reports whether anything was removed.
func Remove(list []*models.Influence, id uuid.UUID) ([]*models.Influence, bool) {
	idx := slices.IndexFunc(list, func(inf *models.Influence) bool { return inf.ID == id })
	if idx < 0 {
		return list, false
	}
	out := slices.Delete(slices.Clone(list), idx, idx+1)
	return Reindex(out), true
}

// IsDense reports whether positions are exactly {0..n-1} in list order.
func IsDense(list []*models.Influence) bool {
	for i, inf := range list {
		if inf.Position != i {
			return false
		}
	}
	return true
}
