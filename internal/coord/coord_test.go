package coord

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_Basic(t *testing.T) {
	tr := NewTracker()
	tr.Add(5, -2)
	tr.Add(-3, 7)
	tr.Add(0, 0)

	ext, err := tr.Extent()
	require.NoError(t, err)
	assert.Equal(t, Extent{MinX: -3, MaxX: 5, MinY: -2, MaxY: 7}, ext)
	assert.Equal(t, uint64(3), tr.Count())

	lx, err := ext.LenX()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), lx)
	ly, err := ext.LenY()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), ly)
}

func TestTracker_Empty(t *testing.T) {
	_, err := NewTracker().Extent()
	assert.ErrorIs(t, err, ErrEmptyExtent)
}

func TestExtent_WideRangeDoesNotWrap(t *testing.T) {
	// The historical defect: a 32-bit signed length wrapped negative for
	// ranges like this one and downstream built a zero-size matrix.
	ext, err := ExtentOf([]int64{-1_000_000, math.MaxInt32}, []int64{0, 1})
	require.NoError(t, err)

	lx, err := ext.LenX()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxInt32)+1_000_000+1, lx)
}

func TestExtent_FullInt64RangeRejected(t *testing.T) {
	// [MinInt64, MaxInt64] has length 2^64, one past uint64.
	ext := Extent{MinX: math.MinInt64, MaxX: math.MaxInt64, MinY: 0, MaxY: 0}
	_, err := ext.LenX()
	assert.ErrorIs(t, err, ErrInvalidLength)

	// One narrower is the widest representable range.
	ext.MinX = math.MinInt64 + 1
	lx, err := ext.LenX()
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint64), lx)
}

func TestExtent_InvertedRangeRejected(t *testing.T) {
	ext := Extent{MinX: 10, MaxX: 3, MinY: 0, MaxY: 0}
	_, err := ext.LenX()
	assert.ErrorIs(t, err, ErrInvalidLength)
}

func TestExtent_Union(t *testing.T) {
	a := Extent{MinX: 0, MaxX: 4, MinY: 2, MaxY: 3}
	b := Extent{MinX: -1, MaxX: 2, MinY: 5, MaxY: 9}
	assert.Equal(t, Extent{MinX: -1, MaxX: 4, MinY: 2, MaxY: 9}, a.Union(b))
}

func TestBinOf_FloorDivision(t *testing.T) {
	cases := []struct {
		v, size, want int64
	}{
		{0, 20, 0},
		{19, 20, 0},
		{20, 20, 1},
		{-1, 20, -1},
		{-20, 20, -1},
		{-21, 20, -2},
		{7, 1, 7},
		{-7, 1, -7},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BinOf(c.v, c.size), "BinOf(%d, %d)", c.v, c.size)
	}
}
