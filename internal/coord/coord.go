// Package coord provides overflow-safe bounding-box arithmetic over spatial
// coordinates. All ranges are tracked in int64 and lengths are computed in
// uint64, so no coordinate pair representable in the input format can wrap
// during min/max or length computation.
package coord

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrEmptyExtent is returned when an extent is requested before any
	// coordinate has been observed.
	ErrEmptyExtent = errors.New("coord: empty extent")
	// ErrInvalidLength is returned when a computed axis length is not a
	// positive value representable in uint64. This indicates a logic defect
	// upstream and must abort the run instead of propagating a wrapped length.
	ErrInvalidLength = errors.New("coord: invalid axis length")
)

// Extent is a closed bounding box over both axes.
type Extent struct {
	MinX, MaxX int64
	MinY, MaxY int64
}

// LenX returns max_x - min_x + 1. The subtraction is performed in uint64
// two's-complement so a range like [-1e6, math.MaxInt64-1] cannot overflow.
func (e Extent) LenX() (uint64, error) {
	return axisLen(e.MinX, e.MaxX, "x")
}

// LenY returns max_y - min_y + 1.
func (e Extent) LenY() (uint64, error) {
	return axisLen(e.MinY, e.MaxY, "y")
}

func axisLen(lo, hi int64, axis string) (uint64, error) {
	if hi < lo {
		return 0, fmt.Errorf("%w: %s range [%d, %d]", ErrInvalidLength, axis, lo, hi)
	}
	diff := uint64(hi) - uint64(lo)
	if diff == math.MaxUint64 {
		return 0, fmt.Errorf("%w: %s range [%d, %d] exceeds uint64", ErrInvalidLength, axis, lo, hi)
	}
	return diff + 1, nil
}

// Union returns the smallest extent covering both e and o.
func (e Extent) Union(o Extent) Extent {
	if o.MinX < e.MinX {
		e.MinX = o.MinX
	}
	if o.MaxX > e.MaxX {
		e.MaxX = o.MaxX
	}
	if o.MinY < e.MinY {
		e.MinY = o.MinY
	}
	if o.MaxY > e.MaxY {
		e.MaxY = o.MaxY
	}
	return e
}

// Contains reports whether (x, y) lies inside the extent.
func (e Extent) Contains(x, y int64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

// Tracker accumulates an extent incrementally from a stream of coordinates.
// The zero value is not usable; call NewTracker.
type Tracker struct {
	ext   Extent
	count uint64
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		ext: Extent{
			MinX: math.MaxInt64, MaxX: math.MinInt64,
			MinY: math.MaxInt64, MaxY: math.MinInt64,
		},
	}
}

// Add folds one coordinate pair into the tracked extent.
func (t *Tracker) Add(x, y int64) {
	if x < t.ext.MinX {
		t.ext.MinX = x
	}
	if x > t.ext.MaxX {
		t.ext.MaxX = x
	}
	if y < t.ext.MinY {
		t.ext.MinY = y
	}
	if y > t.ext.MaxY {
		t.ext.MaxY = y
	}
	t.count++
}

// Count returns the number of coordinate pairs observed.
func (t *Tracker) Count() uint64 {
	return t.count
}

// Extent returns the tracked bounding box, or ErrEmptyExtent when no
// coordinate was ever added. The axis lengths are validated here so a
// defective extent fails at the tracker boundary rather than downstream.
func (t *Tracker) Extent() (Extent, error) {
	if t.count == 0 {
		return Extent{}, ErrEmptyExtent
	}
	if _, err := t.ext.LenX(); err != nil {
		return Extent{}, err
	}
	if _, err := t.ext.LenY(); err != nil {
		return Extent{}, err
	}
	return t.ext, nil
}

// ExtentOf computes the extent of a coordinate slice in one call.
func ExtentOf(xs, ys []int64) (Extent, error) {
	if len(xs) != len(ys) {
		return Extent{}, fmt.Errorf("coord: mismatched slice lengths %d vs %d", len(xs), len(ys))
	}
	t := NewTracker()
	for i := range xs {
		t.Add(xs[i], ys[i])
	}
	return t.Extent()
}

// BinOf maps a coordinate to its bin index by floor division, so negative
// coordinates bin consistently with positive ones (truncation would fold
// [-size+1, size-1] into bin 0). size must be positive.
func BinOf(v, size int64) int64 {
	q := v / size
	if v%size != 0 && v < 0 {
		q--
	}
	return q
}
