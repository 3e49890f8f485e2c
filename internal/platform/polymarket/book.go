package polymarket

import (
	"github.com/google/btree"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func levelLessAsc(a, b domain.PriceLevel) bool  { return a.Price < b.Price }
func levelLessDesc(a, b domain.PriceLevel) bool { return a.Price > b.Price }

// normaliseBids returns bids strictly descending by price, truncated to
// depth. Duplicate prices collapse to the last occurrence and levels with a
// non-positive size are dropped.
func normaliseBids(levels []domain.PriceLevel, depth int) []domain.PriceLevel {
	return normalise(levels, depth, levelLessDesc)
}

// normaliseAsks is normaliseBids for the ask side (strictly ascending).
func normaliseAsks(levels []domain.PriceLevel, depth int) []domain.PriceLevel {
	return normalise(levels, depth, levelLessAsc)
}

func normalise(levels []domain.PriceLevel, depth int, less btree.LessFunc[domain.PriceLevel]) []domain.PriceLevel {
	tree := btree.NewG(16, less)
	for _, lvl := range levels {
		if lvl.Price <= 0 {
			continue
		}
		if lvl.Size <= 0 {
			tree.Delete(lvl)
			continue
		}
		tree.ReplaceOrInsert(lvl)
	}

	n := tree.Len()
	if n > depth {
		n = depth
	}
	out := make([]domain.PriceLevel, 0, n)
	tree.Ascend(func(lvl domain.PriceLevel) bool {
		if len(out) >= depth {
			return false
		}
		out = append(out, lvl)
		return true
	})
	return out
}
