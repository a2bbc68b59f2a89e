package bin

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stereokit/gefkit/internal/coord"
	"github.com/stereokit/gefkit/internal/gem"
	"github.com/stereokit/gefkit/internal/gene"
)

const smallGem = "geneID\tx\ty\tMIDCount\tExonCount\n" +
	"geneA\t0\t0\t5\t2\n" +
	"geneA\t1\t0\t3\t1\n" +
	"geneB\t0\t1\t7\t0\n"

func runOn(t *testing.T, input string, cfg RunConfig) ([]*Result, *ParseSummary, *gene.Dictionary) {
	t.Helper()
	r, err := gem.NewReader(strings.NewReader(input))
	require.NoError(t, err)
	dict := gene.NewDictionary()
	results, sum, err := Run(r, dict, cfg)
	require.NoError(t, err)
	return results, sum, dict
}

func TestRun_Bin1(t *testing.T) {
	results, sum, dict := runOn(t, smallGem, RunConfig{BinSizes: []uint32{1}})
	require.Len(t, results, 1)
	res := results[0]

	assert.Equal(t, uint64(3), sum.Records)
	assert.Equal(t, []string{"geneA", "geneB"}, dict.Names())
	assert.True(t, dict.Frozen())

	want := []Entry{
		{Gene: 0, X: 0, Y: 0, MIDCount: 5, ExonCount: 2},
		{Gene: 0, X: 1, Y: 0, MIDCount: 3, ExonCount: 1},
		{Gene: 1, X: 0, Y: 1, MIDCount: 7, ExonCount: 0},
	}
	assert.Equal(t, want, res.Entries)

	assert.Equal(t, coord.Extent{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1}, res.Extent)
	lx, err := res.Extent.LenX()
	require.NoError(t, err)
	ly, err := res.Extent.LenY()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lx)
	assert.Equal(t, uint64(2), ly)
	assert.Equal(t, uint64(7), res.MaxExp)
	assert.Equal(t, uint64(2), res.MaxExon)

	assert.Equal(t, coord.Extent{MinX: 0, MaxX: 1, MinY: 0, MaxY: 0}, res.GeneExtents[0])
	assert.Equal(t, coord.Extent{MinX: 0, MaxX: 0, MinY: 1, MaxY: 1}, res.GeneExtents[1])
}

func TestRun_Bin2MergesCells(t *testing.T) {
	results, _, _ := runOn(t, smallGem, RunConfig{BinSizes: []uint32{2}})
	res := results[0]

	want := []Entry{
		{Gene: 0, X: 0, Y: 0, MIDCount: 8, ExonCount: 3},
		{Gene: 1, X: 0, Y: 0, MIDCount: 7, ExonCount: 0},
	}
	assert.Equal(t, want, res.Entries)
	// Bounding box stays in original coordinate space.
	assert.Equal(t, coord.Extent{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1}, res.Extent)
}

func TestRun_FanOutSinglePass(t *testing.T) {
	results, sum, _ := runOn(t, smallGem, RunConfig{BinSizes: []uint32{1, 2}})
	require.Len(t, results, 2)
	assert.Equal(t, uint64(3), sum.Records)

	// Monotonic coarsening: the coarser bin never has more cells.
	assert.GreaterOrEqual(t, len(results[0].Entries), len(results[1].Entries))
	assert.Equal(t, uint64(3), results[0].Records)
	assert.Equal(t, uint64(3), results[1].Records)
}

func TestRun_NoRecordDroppedOrDoubleCounted(t *testing.T) {
	results, _, _ := runOn(t, smallGem, RunConfig{BinSizes: []uint32{1, 2, 7}})
	var wantTotal uint64 = 5 + 3 + 7
	for _, res := range results {
		var total uint64
		for _, e := range res.Entries {
			total += e.MIDCount
		}
		assert.Equal(t, wantTotal, total, "bin size %d", res.BinSize)
	}
}

func TestRun_Deterministic(t *testing.T) {
	a, _, _ := runOn(t, smallGem, RunConfig{BinSizes: []uint32{1}})
	b, _, _ := runOn(t, smallGem, RunConfig{BinSizes: []uint32{1}})
	assert.Equal(t, a[0].Entries, b[0].Entries)
}

func TestRun_NegativeCoordinatesFloorBin(t *testing.T) {
	in := "geneID\tx\ty\tMIDCount\n" +
		"geneA\t-1\t-20\t1\n" +
		"geneA\t-21\t0\t1\n"
	results, _, _ := runOn(t, in, RunConfig{BinSizes: []uint32{20}})
	want := []Entry{
		{Gene: 0, X: -1, Y: -1, MIDCount: 1},
		{Gene: 0, X: -2, Y: 0, MIDCount: 1},
	}
	assert.Equal(t, want, results[0].Entries)
}

func TestRun_RegionCrop(t *testing.T) {
	region := coord.Extent{MinX: 0, MaxX: 0, MinY: 0, MaxY: 1}
	results, sum, _ := runOn(t, smallGem, RunConfig{BinSizes: []uint32{1}, Region: &region})
	assert.Equal(t, uint64(2), sum.Records)
	assert.Equal(t, uint64(1), sum.Cropped)
	require.Len(t, results[0].Entries, 2)
}

func TestRun_SkipsMalformedLines(t *testing.T) {
	in := "geneID\tx\ty\tMIDCount\n" +
		"geneA\t1\t1\t1\n" +
		"broken line\n" +
		"geneA\tx\t1\t1\n" +
		"geneB\t2\t2\t2\n"
	results, sum, _ := runOn(t, in, RunConfig{BinSizes: []uint32{1}})
	assert.Equal(t, uint64(2), sum.Records)
	assert.Equal(t, uint64(2), sum.Skipped)
	require.Len(t, sum.First, 2)
	assert.Equal(t, 3, sum.First[0].Line)
	assert.Len(t, results[0].Entries, 2)
}

func TestRun_ConsecutiveErrorThreshold(t *testing.T) {
	in := "geneID\tx\ty\tMIDCount\n" +
		"bad\n" +
		"bad\n" +
		"bad\n"
	r, err := gem.NewReader(strings.NewReader(in))
	require.NoError(t, err)
	_, _, err = Run(r, gene.NewDictionary(), RunConfig{BinSizes: []uint32{1}, MaxConsecutiveErrors: 2})
	require.Error(t, err)
}

func TestRun_EmptyInputIsAnError(t *testing.T) {
	r, err := gem.NewReader(strings.NewReader("geneID\tx\ty\tMIDCount\n"))
	require.NoError(t, err)
	_, _, err = Run(r, gene.NewDictionary(), RunConfig{BinSizes: []uint32{1}})
	assert.ErrorIs(t, err, coord.ErrEmptyExtent)
}

func TestRun_ConfigErrors(t *testing.T) {
	r, err := gem.NewReader(strings.NewReader(smallGem))
	require.NoError(t, err)
	_, _, err = Run(r, gene.NewDictionary(), RunConfig{})
	assert.ErrorIs(t, err, ErrBinList)

	_, err = NewAggregator(0)
	assert.ErrorIs(t, err, ErrBinSize)
}
