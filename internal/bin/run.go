package bin

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/stereokit/gefkit/internal/coord"
	"github.com/stereokit/gefkit/internal/gem"
	"github.com/stereokit/gefkit/internal/gene"
)

// ErrBinList rejects an empty bin-size list at configuration time.
var ErrBinList = errors.New("bin: empty bin size list")

// progressEvery is the record cadence for progress log lines.
const progressEvery = 10_000_000

// RunConfig configures one aggregation pass.
type RunConfig struct {
	BinSizes []uint32
	// Region optionally crops records to a rectangle in original
	// coordinate space before aggregation.
	Region *coord.Extent
	// MaxConsecutiveErrors aborts the pass when this many malformed lines
	// occur in a row. Zero means never abort on line errors.
	MaxConsecutiveErrors int
	// KeepFirstErrors bounds how many offending lines the summary retains.
	// Defaults to 5 when zero.
	KeepFirstErrors int
}

// ParseSummary reports the skip-and-count outcome of a pass.
type ParseSummary struct {
	Records uint64 // valid records aggregated
	Cropped uint64 // records dropped by the region crop
	Skipped uint64 // malformed lines skipped
	First   []*gem.LineError
}

// Run consumes the record stream exactly once and fans every record out to
// one aggregator per configured bin size. The source may be a non-seekable
// decompressing stream; nothing here re-reads it. The dictionary is the
// single shared mutable state: each gene name is interned once per record and
// the resulting index handed to every aggregator, and the dictionary is
// frozen before the results are assembled.
func Run(r *gem.Reader, dict *gene.Dictionary, cfg RunConfig) ([]*Result, *ParseSummary, error) {
	if len(cfg.BinSizes) == 0 {
		return nil, nil, ErrBinList
	}
	keepFirst := cfg.KeepFirstErrors
	if keepFirst == 0 {
		keepFirst = 5
	}

	aggs := make([]*Aggregator, len(cfg.BinSizes))
	for i, size := range cfg.BinSizes {
		a, err := NewAggregator(size)
		if err != nil {
			return nil, nil, err
		}
		aggs[i] = a
	}

	sum := &ParseSummary{}
	consecutive := 0
	for {
		rec, err := r.Next()
		if err == io.EOF {
			break
		}
		var le *gem.LineError
		if errors.As(err, &le) {
			sum.Skipped++
			consecutive++
			if len(sum.First) < keepFirst {
				sum.First = append(sum.First, le)
			}
			if cfg.MaxConsecutiveErrors > 0 && consecutive >= cfg.MaxConsecutiveErrors {
				return nil, nil, fmt.Errorf("bin: %d consecutive malformed lines, last: %w", consecutive, le)
			}
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		consecutive = 0

		if cfg.Region != nil && !cfg.Region.Contains(rec.X, rec.Y) {
			sum.Cropped++
			continue
		}

		idx, err := dict.Intern(rec.Gene)
		if err != nil {
			return nil, nil, err
		}
		for _, a := range aggs {
			a.Add(idx, rec)
		}
		sum.Records++
		if sum.Records%progressEvery == 0 {
			log.Printf("processed %d records...", sum.Records)
		}
	}

	dict.Freeze()

	results := make([]*Result, len(aggs))
	for i, a := range aggs {
		res, err := a.Finish()
		if err != nil {
			return nil, nil, err
		}
		results[i] = res
	}
	return results, sum, nil
}
