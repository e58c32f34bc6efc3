package ordering

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func items(positions ...float64) []Item {
	out := make([]Item, len(positions))
	for i, p := range positions {
		out[i] = Item{ID: fmt.Sprintf("i%03d", i), Position: p}
	}
	return out
}

func TestAppendUsesGapAfterMax(t *testing.T) {
	a := DefaultAllocator
	require.Equal(t, DefaultGap, a.Append(nil))
	require.Equal(t, 3500.0, a.Append(items(1000, 2500)))
}

func TestInsertInteriorIsMidpoint(t *testing.T) {
	pos, err := DefaultAllocator.Insert(items(1000, 2000, 3000), 1)
	require.NoError(t, err)
	require.Equal(t, 1500.0, pos)
}

func TestInsertAtFrontHalvesFirstPosition(t *testing.T) {
	pos, err := DefaultAllocator.Insert(items(1000, 2000), 0)
	require.NoError(t, err)
	require.Equal(t, 500.0, pos)
}

func TestInsertPastEndAppends(t *testing.T) {
	for _, idx := range []int{2, 3, End} {
		pos, err := DefaultAllocator.Insert(items(1000, 2000), idx)
		require.NoError(t, err)
		require.Equal(t, 3000.0, pos)
	}
}

func TestInsertSignalsExhaustion(t *testing.T) {
	a := NewAllocator(4, 1)
	_, err := a.Insert(items(1, 1.5), 1)
	require.True(t, errors.Is(err, ErrRenormalizationRequired))

	// equal neighbours, which the id tie-break tolerates on read
	_, err = DefaultAllocator.Insert(items(1000, 1000), 1)
	require.ErrorIs(t, err, ErrRenormalizationRequired)

	_, err = DefaultAllocator.Insert(items(0, 1000), 0)
	require.ErrorIs(t, err, ErrRenormalizationRequired)
}

func TestRenormalizePreservesOrder(t *testing.T) {
	in := []Item{{ID: "b", Position: 3}, {ID: "a", Position: 3}, {ID: "c", Position: 0.5}}
	Sort(in)
	require.Equal(t, []string{"c", "a", "b"}, ids(in))

	changed := DefaultAllocator.Renormalize(in)
	require.Len(t, changed, 3)
	require.Equal(t, []string{"c", "a", "b"}, ids(in))
	require.Equal(t, []float64{1000, 2000, 3000}, positions(in))

	require.Empty(t, DefaultAllocator.Renormalize(in), "already normalized rows are not rewritten")
}

func TestDegenerate(t *testing.T) {
	require.False(t, DefaultAllocator.Degenerate(items(1000, 2000)))
	require.True(t, DefaultAllocator.Degenerate(items(1000, 1000)))
	require.True(t, DefaultAllocator.Degenerate(items(-1, 1000)))
}

func TestNewAllocatorRejectsBadParameters(t *testing.T) {
	require.Panics(t, func() { NewAllocator(0, 1) })
	require.Panics(t, func() { NewAllocator(10, 10) })
}

func ids(in []Item) []string {
	out := make([]string, len(in))
	for i, it := range in {
		out[i] = it.ID
	}
	return out
}

func positions(in []Item) []float64 {
	out := make([]float64, len(in))
	for i, it := range in {
		out[i] = it.Position
	}
	return out
}
