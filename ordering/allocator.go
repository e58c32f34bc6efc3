// Package ordering assigns gapped positions to lists within a board and to
// cards within a list, and applies moves against a transactional store.
package ordering

import (
	"errors"
	"sort"
)

const (
	// DefaultGap separates neighbours after an append or a renormalization.
	DefaultGap = 1000.0
	// DefaultMinSpacing is the smallest neighbour distance still considered
	// splittable. It bounds the number of interior inserts between two
	// neighbours to roughly log2(DefaultGap/DefaultMinSpacing).
	DefaultMinSpacing = 1e-6
)

// ErrRenormalizationRequired is returned when no position fits between the
// neighbours of the requested index. It never leaves this package's callers.
var ErrRenormalizationRequired = errors.New("renormalization required")

// Item is one positioned row of a collection.
type Item struct {
	ID       string
	Position float64
}

// Sort orders items by position, breaking ties by ascending id.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Position != items[j].Position {
			return items[i].Position < items[j].Position
		}
		return items[i].ID < items[j].ID
	})
}

// Allocator computes positions. The zero value is not usable; use
// NewAllocator or DefaultAllocator.
type Allocator struct {
	gap        float64
	minSpacing float64
}

// DefaultAllocator uses DefaultGap and DefaultMinSpacing.
var DefaultAllocator = NewAllocator(DefaultGap, DefaultMinSpacing)

// NewAllocator panics on non-positive parameters since they would make
// every insertion ambiguous.
func NewAllocator(gap, minSpacing float64) Allocator {
	if gap <= 0 || minSpacing <= 0 || minSpacing >= gap {
		panic("ordering: gap and minSpacing must satisfy 0 < minSpacing < gap")
	}
	return Allocator{gap: gap, minSpacing: minSpacing}
}

func (a Allocator) Gap() float64 { return a.gap }

// Append returns a position after every item in sorted.
func (a Allocator) Append(sorted []Item) float64 {
	if len(sorted) == 0 {
		return a.gap
	}
	return sorted[len(sorted)-1].Position + a.gap
}

// Clamp limits index to [0, n].
func Clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

// Insert returns the position for a new item placed at index within sorted
// (which must not contain the item itself). No existing item changes.
func (a Allocator) Insert(sorted []Item, index int) (float64, error) {
	n := len(sorted)
	index = Clamp(index, n)
	if index == n {
		return a.Append(sorted), nil
	}
	lo := 0.0
	if index > 0 {
		lo = sorted[index-1].Position
	}
	hi := sorted[index].Position
	return a.between(lo, hi)
}

func (a Allocator) between(lo, hi float64) (float64, error) {
	if hi-lo < a.minSpacing {
		return 0, ErrRenormalizationRequired
	}
	mid := lo + (hi-lo)/2
	if mid <= lo || mid >= hi {
		return 0, ErrRenormalizationRequired
	}
	return mid, nil
}

// Renormalize rewrites sorted in place to Gap, 2*Gap, 3*Gap, ... keeping
// the current order, and returns the items whose position changed.
//
// The layout starts at Gap, matching repeated appends into an empty
// collection, so the slot in front of the first item is always splittable.
func (a Allocator) Renormalize(sorted []Item) []Item {
	var changed []Item
	for i := range sorted {
		want := float64(i+1) * a.gap
		if sorted[i].Position != want {
			sorted[i].Position = want
			changed = append(changed, sorted[i])
		}
	}
	return changed
}

// Degenerate reports whether sorted violates strict monotonicity or has
// neighbours closer than the minimum spacing.
func (a Allocator) Degenerate(sorted []Item) bool {
	prev := 0.0
	for i, it := range sorted {
		if it.Position < 0 {
			return true
		}
		if i > 0 && it.Position-prev < a.minSpacing {
			return true
		}
		prev = it.Position
	}
	return false
}
