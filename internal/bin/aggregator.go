// Package bin aggregates GEM records into per-bin-size sparse expression
// tables. One Aggregator per requested bin size; all aggregators consume the
// same record stream in a single pass and share only the gene dictionary.
package bin

import (
	"errors"
	"fmt"
	"sort"

	"github.com/stereokit/gefkit/internal/coord"
	"github.com/stereokit/gefkit/internal/gem"
)

var (
	// ErrBinSize rejects a non-positive bin size at configuration time.
	ErrBinSize = errors.New("bin: bin size must be positive")
	// ErrDuplicateKey signals a duplicate (gene, binX, binY) key in a
	// finished sparse table. Keys are deduplicated by summation during
	// aggregation, so a duplicate afterwards is a logic defect.
	ErrDuplicateKey = errors.New("bin: duplicate sparse key")
)

// Key identifies one aggregated cell: gene index plus bin coordinates.
type Key struct {
	Gene uint32
	X, Y int64
}

// Entry is one cell of the sparse expression table. Sums are 64-bit so dense
// tissue regions cannot overflow the 32-bit per-record counts.
type Entry struct {
	Gene      uint32
	X, Y      int64
	MIDCount  uint64
	ExonCount uint64
}

type cell struct {
	mid  uint64
	exon uint64
}

// Result is the finished output of one Aggregator. Entries are in canonical
// order: ascending gene index, then bin Y, then bin X. The order is a
// contract; downstream layout and consumers rely on it being reproducible.
type Result struct {
	BinSize     uint32
	Extent      coord.Extent // in original (unbinned) coordinate space
	GeneExtents map[uint32]coord.Extent
	Entries     []Entry
	MaxExp      uint64 // largest per-cell MIDCount sum
	MaxExon     uint64 // largest per-cell ExonCount sum
	Records     uint64 // records folded in
}

// BinExtent returns the extent of the occupied bins in bin space.
func (r *Result) BinExtent() coord.Extent {
	size := int64(r.BinSize)
	return coord.Extent{
		MinX: coord.BinOf(r.Extent.MinX, size),
		MaxX: coord.BinOf(r.Extent.MaxX, size),
		MinY: coord.BinOf(r.Extent.MinY, size),
		MaxY: coord.BinOf(r.Extent.MaxY, size),
	}
}

// Aggregator accumulates records for a single bin size.
type Aggregator struct {
	binSize uint32
	cells   map[Key]*cell
	global  *coord.Tracker
	perGene map[uint32]*coord.Tracker
	records uint64
}

// NewAggregator validates the bin size and returns an empty aggregator.
func NewAggregator(binSize uint32) (*Aggregator, error) {
	if binSize == 0 {
		return nil, fmt.Errorf("%w: %d", ErrBinSize, binSize)
	}
	return &Aggregator{
		binSize: binSize,
		cells:   make(map[Key]*cell),
		global:  coord.NewTracker(),
		perGene: make(map[uint32]*coord.Tracker),
	}, nil
}

// Add folds one record into the sparse table. The gene index must come from
// the shared dictionary; the bounding boxes are tracked on the unbinned
// coordinates.
func (a *Aggregator) Add(geneIdx uint32, rec gem.Record) {
	size := int64(a.binSize)
	k := Key{
		Gene: geneIdx,
		X:    coord.BinOf(rec.X, size),
		Y:    coord.BinOf(rec.Y, size),
	}
	c, ok := a.cells[k]
	if !ok {
		c = &cell{}
		a.cells[k] = c
	}
	c.mid += uint64(rec.MIDCount)
	c.exon += uint64(rec.ExonCount)

	a.global.Add(rec.X, rec.Y)
	gt, ok := a.perGene[geneIdx]
	if !ok {
		gt = coord.NewTracker()
		a.perGene[geneIdx] = gt
	}
	gt.Add(rec.X, rec.Y)
	a.records++
}

// Finish sorts the sparse table into canonical order and returns the Result.
// It fails with coord.ErrEmptyExtent when no record was added: an empty input
// must surface as an error, never as a zero-size matrix.
func (a *Aggregator) Finish() (*Result, error) {
	ext, err := a.global.Extent()
	if err != nil {
		return nil, fmt.Errorf("bin %d: %w", a.binSize, err)
	}

	entries := make([]Entry, 0, len(a.cells))
	var maxExp, maxExon uint64
	for k, c := range a.cells {
		entries = append(entries, Entry{Gene: k.Gene, X: k.X, Y: k.Y, MIDCount: c.mid, ExonCount: c.exon})
		if c.mid > maxExp {
			maxExp = c.mid
		}
		if c.exon > maxExon {
			maxExon = c.exon
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Gene != entries[j].Gene {
			return entries[i].Gene < entries[j].Gene
		}
		if entries[i].Y != entries[j].Y {
			return entries[i].Y < entries[j].Y
		}
		return entries[i].X < entries[j].X
	})
	for i := 1; i < len(entries); i++ {
		if entries[i].Gene == entries[i-1].Gene && entries[i].Y == entries[i-1].Y && entries[i].X == entries[i-1].X {
			return nil, fmt.Errorf("%w: gene=%d x=%d y=%d", ErrDuplicateKey, entries[i].Gene, entries[i].X, entries[i].Y)
		}
	}

	perGene := make(map[uint32]coord.Extent, len(a.perGene))
	for idx, tr := range a.perGene {
		e, err := tr.Extent()
		if err != nil {
			return nil, fmt.Errorf("bin %d: gene %d: %w", a.binSize, idx, err)
		}
		perGene[idx] = e
	}

	return &Result{
		BinSize:     a.binSize,
		Extent:      ext,
		GeneExtents: perGene,
		Entries:     entries,
		MaxExp:      maxExp,
		MaxExon:     maxExon,
		Records:     a.records,
	}, nil
}
