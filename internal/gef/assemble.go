// Package gef assembles aggregation results into the bGEF container layout:
// one geneExp section per bin size holding the gene table and the sparse
// expression arrays in canonical order, a dense wholeExp summary per bin
// size, and the top-level attributes tying them together.
package gef

import (
	"errors"
	"fmt"
	"log"
	"math"

	"github.com/stereokit/gefkit/internal/bin"
	"github.com/stereokit/gefkit/internal/data/gefstore"
	"github.com/stereokit/gefkit/internal/gene"
)

// Version is the bGEF layout version written to the version attribute.
const Version uint32 = 4

// Attribute and dataset names of the bGEF layout.
const (
	AttrVersion    = "version"
	AttrResolution = "resolution"
	AttrBinList    = "binList"
	AttrSampleID   = "sampleId"
	AttrOmics      = "omics"
	AttrBinType    = "binType"
	AttrOffsetX    = "offsetX"
	AttrOffsetY    = "offsetY"

	AttrMinX      = "minX"
	AttrLenX      = "lenX"
	AttrMinY      = "minY"
	AttrLenY      = "lenY"
	AttrMaxExp    = "maxExp"
	AttrMaxExon   = "maxExon"
	AttrMatrixLen = "matrixLen"
	AttrBinSize   = "binSize"
	AttrNumber    = "number"
	AttrMaxMID    = "maxMID"

	DataGeneNames  = "geneNames"
	DataGeneIDs    = "geneID"
	DataGeneOffset = "geneOffset"
	DataGeneCount  = "geneCount"
	DataGeneIndex  = "geneIndex"
	DataX          = "x"
	DataY          = "y"
	DataMIDCount   = "midCount"
	DataExonCount  = "exonCount"
)

// maxDenseCells caps the dense wholeExp matrix; past this the section is
// skipped rather than allocating an unbounded buffer for sparse slides.
const maxDenseCells = 1 << 26

var (
	// ErrNoBins means the document has no aggregation results.
	ErrNoBins = errors.New("gef: no bin results")
	// ErrDictNotFrozen means assembly started before the dictionary freeze.
	ErrDictNotFrozen = errors.New("gef: gene dictionary not frozen")
)

// BinGroup names the sparse expression section for a bin size.
func BinGroup(size uint32) string {
	return fmt.Sprintf("geneExp/bin%d", size)
}

// WholeGroup names the dense whole-slide section for a bin size.
func WholeGroup(size uint32) string {
	return fmt.Sprintf("wholeExp/bin%d", size)
}

// Document is the top-level artifact: the frozen gene dictionary plus one
// BinResult per requested bin size. It is written exactly once.
type Document struct {
	Resolution uint32
	Omics      string
	SampleID   string // "unknown" when the input carried no identifier
	BinType    string
	OffsetX    int64
	OffsetY    int64

	Dict *gene.Dictionary
	Bins []*bin.Result
	// GeneIDs optionally maps dictionary indices to stable gene IDs
	// (e.g. Ensembl). Empty strings mark unresolved symbols. Either empty
	// or exactly Dict.Len() long.
	GeneIDs []string
}

// Validate checks the document invariants before any byte is written.
func (d *Document) Validate() error {
	if d.Dict == nil || !d.Dict.Frozen() {
		return ErrDictNotFrozen
	}
	if len(d.Bins) == 0 {
		return ErrNoBins
	}
	if len(d.GeneIDs) != 0 && len(d.GeneIDs) != d.Dict.Len() {
		return fmt.Errorf("gef: %d gene IDs for %d genes", len(d.GeneIDs), d.Dict.Len())
	}
	seen := make(map[uint32]bool, len(d.Bins))
	for _, res := range d.Bins {
		if res.BinSize == 0 {
			return bin.ErrBinSize
		}
		if seen[res.BinSize] {
			return fmt.Errorf("gef: duplicate bin size %d", res.BinSize)
		}
		seen[res.BinSize] = true
		if len(res.Entries) == 0 {
			return fmt.Errorf("gef: bin %d: empty sparse table", res.BinSize)
		}
	}
	return nil
}

// Write assembles the document into a container at path. Assembly is atomic:
// a failure on any section leaves no readable artifact at the target path.
func Write(path string, doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	w, err := gefstore.Create(path)
	if err != nil {
		return err
	}
	if err := writeAll(w, doc); err != nil {
		w.Abort()
		return err
	}
	return w.Commit()
}

func writeAll(w *gefstore.Writer, doc *Document) error {
	sampleID := doc.SampleID
	if sampleID == "" {
		sampleID = "unknown"
	}
	binList := make([]uint32, len(doc.Bins))
	for i, res := range doc.Bins {
		binList[i] = res.BinSize
	}

	w.SetAttr("", AttrVersion, gefstore.UintAttr(uint64(Version)))
	w.SetAttr("", AttrResolution, gefstore.UintAttr(uint64(doc.Resolution)))
	w.SetAttr("", AttrBinList, gefstore.UintListAttr(binList))
	w.SetAttr("", AttrSampleID, gefstore.StringAttr(sampleID))
	w.SetAttr("", AttrOmics, gefstore.StringAttr(doc.Omics))
	w.SetAttr("", AttrBinType, gefstore.StringAttr(doc.BinType))
	w.SetAttr("", AttrOffsetX, gefstore.IntAttr(doc.OffsetX))
	w.SetAttr("", AttrOffsetY, gefstore.IntAttr(doc.OffsetY))

	for _, res := range doc.Bins {
		if err := writeBinSection(w, doc, res); err != nil {
			return err
		}
		if err := writeWholeSection(w, res); err != nil {
			return err
		}
	}
	return w.Err()
}

// writeBinSection emits one geneExp/bin{N} group: the gene table, then the
// sparse expression arrays in canonical order, then the extent attributes.
func writeBinSection(w *gefstore.Writer, doc *Document, res *bin.Result) error {
	grp := BinGroup(res.BinSize)
	n := len(res.Entries)

	geneIndex := make([]uint32, n)
	xs := make([]int64, n)
	ys := make([]int64, n)
	mids := make([]uint64, n)
	exons := make([]uint64, n)
	for i, e := range res.Entries {
		geneIndex[i] = e.Gene
		xs[i] = e.X
		ys[i] = e.Y
		mids[i] = e.MIDCount
		exons[i] = e.ExonCount
	}

	// Per-gene block table into the canonically sorted arrays. Entries are
	// sorted by gene index first, so each gene owns one contiguous run.
	nGenes := doc.Dict.Len()
	offsets := make([]uint64, nGenes)
	counts := make([]uint32, nGenes)
	for i := 0; i < n; {
		g := geneIndex[i]
		j := i
		for j < n && geneIndex[j] == g {
			j++
		}
		offsets[g] = uint64(i)
		counts[g] = uint32(j - i)
		i = j
	}
	// Genes absent from this bin keep count 0; point their offset at the
	// end of the run that precedes them so offsets stay monotonic.
	var prevEnd uint64
	for g := 0; g < nGenes; g++ {
		if counts[g] == 0 {
			offsets[g] = prevEnd
		} else {
			prevEnd = offsets[g] + uint64(counts[g])
		}
	}

	if err := w.AppendStrings(grp, DataGeneNames, doc.Dict.Names()); err != nil {
		return err
	}
	if len(doc.GeneIDs) > 0 {
		if err := w.AppendStrings(grp, DataGeneIDs, doc.GeneIDs); err != nil {
			return err
		}
	}
	if err := w.AppendUint64s(grp, DataGeneOffset, offsets); err != nil {
		return err
	}
	if err := w.AppendUint32s(grp, DataGeneCount, counts); err != nil {
		return err
	}
	if err := w.AppendUint32s(grp, DataGeneIndex, geneIndex); err != nil {
		return err
	}
	if err := w.AppendInt64s(grp, DataX, xs); err != nil {
		return err
	}
	if err := w.AppendInt64s(grp, DataY, ys); err != nil {
		return err
	}
	if err := w.AppendUint64s(grp, DataMIDCount, mids); err != nil {
		return err
	}
	if err := w.AppendUint64s(grp, DataExonCount, exons); err != nil {
		return err
	}

	lenX, err := res.Extent.LenX()
	if err != nil {
		return fmt.Errorf("bin %d: %w", res.BinSize, err)
	}
	lenY, err := res.Extent.LenY()
	if err != nil {
		return fmt.Errorf("bin %d: %w", res.BinSize, err)
	}

	w.SetAttr(grp, AttrBinSize, gefstore.UintAttr(uint64(res.BinSize)))
	w.SetAttr(grp, AttrMinX, gefstore.IntAttr(res.Extent.MinX))
	w.SetAttr(grp, AttrLenX, gefstore.UintAttr(lenX))
	w.SetAttr(grp, AttrMinY, gefstore.IntAttr(res.Extent.MinY))
	w.SetAttr(grp, AttrLenY, gefstore.UintAttr(lenY))
	w.SetAttr(grp, AttrMaxExp, gefstore.UintAttr(res.MaxExp))
	w.SetAttr(grp, AttrMaxExon, gefstore.UintAttr(res.MaxExon))
	w.SetAttr(grp, AttrMatrixLen, gefstore.UintAttr(uint64(n)))
	return nil
}

// writeWholeSection emits the dense per-spatial-bin MID summary, summed
// across genes, in bin space. Counts saturate at uint32 rather than wrap.
func writeWholeSection(w *gefstore.Writer, res *bin.Result) error {
	bext := res.BinExtent()
	lenX, err := bext.LenX()
	if err != nil {
		return fmt.Errorf("wholeExp bin %d: %w", res.BinSize, err)
	}
	lenY, err := bext.LenY()
	if err != nil {
		return fmt.Errorf("wholeExp bin %d: %w", res.BinSize, err)
	}
	if lenX > maxDenseCells || lenY > maxDenseCells || lenX*lenY > maxDenseCells {
		log.Printf("skipping wholeExp/bin%d: dense matrix %dx%d exceeds cell cap", res.BinSize, lenY, lenX)
		return nil
	}

	mat := make([]uint32, lenX*lenY)
	var number uint64
	var maxMID uint32
	for _, e := range res.Entries {
		ix := uint64(e.X - bext.MinX)
		iy := uint64(e.Y - bext.MinY)
		cell := &mat[iy*lenX+ix]
		if *cell == 0 && e.MIDCount > 0 {
			number++
		}
		sum := uint64(*cell) + e.MIDCount
		if sum > math.MaxUint32 {
			sum = math.MaxUint32
		}
		*cell = uint32(sum)
		if *cell > maxMID {
			maxMID = *cell
		}
	}

	grp := WholeGroup(res.BinSize)
	if err := w.AppendUint32Matrix(grp, DataMIDCount, lenY, lenX, mat); err != nil {
		return err
	}
	w.SetAttr(grp, AttrBinSize, gefstore.UintAttr(uint64(res.BinSize)))
	w.SetAttr(grp, AttrMinX, gefstore.IntAttr(bext.MinX))
	w.SetAttr(grp, AttrLenX, gefstore.UintAttr(lenX))
	w.SetAttr(grp, AttrMinY, gefstore.IntAttr(bext.MinY))
	w.SetAttr(grp, AttrLenY, gefstore.UintAttr(lenY))
	w.SetAttr(grp, AttrNumber, gefstore.UintAttr(number))
	w.SetAttr(grp, AttrMaxMID, gefstore.UintAttr(uint64(maxMID)))
	return nil
}
