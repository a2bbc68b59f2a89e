// Package main is the entry point for the GEM to bGEF converter.
package main

import (
	"flag"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/stereokit/gefkit/internal/bin"
	"github.com/stereokit/gefkit/internal/config"
	"github.com/stereokit/gefkit/internal/coord"
	"github.com/stereokit/gefkit/internal/data/gefstore"
	"github.com/stereokit/gefkit/internal/data/tdbexport"
	"github.com/stereokit/gefkit/internal/gef"
	"github.com/stereokit/gefkit/internal/gem"
	"github.com/stereokit/gefkit/internal/gene"
	"github.com/stereokit/gefkit/internal/genedb"
)

func main() {
	input := flag.String("input", "", "Path to the GEM file (.gem or .gem.gz)")
	output := flag.String("output", "", "Path to the output bGEF file")
	binsFlag := flag.String("bins", "", "Comma-separated bin sizes (overrides config)")
	resolution := flag.Uint("resolution", 0, "Chip resolution in nm (overrides config)")
	omics := flag.String("omics", "", "Omics type (overrides config)")
	region := flag.String("region", "", "Crop region as minX,maxX,minY,maxY")
	geneDB := flag.String("gene-db", "", "Optional gene ID database built by genedb")
	tiledbOut := flag.String("tiledb-out", "", "Optional TileDB array URI prefix for dense exports (needs -tags tiledb)")
	configPath := flag.String("config", "config/gefkit.yaml", "Path to configuration file")
	flag.Parse()

	if *input == "" || *output == "" {
		log.Fatal("both -input and -output are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	binSizes := cfg.Convert.Bins
	if *binsFlag != "" {
		if binSizes, err = parseBins(*binsFlag); err != nil {
			log.Fatalf("Invalid -bins: %v", err)
		}
	}
	if *resolution != 0 {
		cfg.Convert.Resolution = uint32(*resolution)
	}
	if *omics != "" {
		cfg.Convert.Omics = *omics
	}

	var crop *coord.Extent
	if *region != "" {
		ext, err := parseRegion(*region)
		if err != nil {
			log.Fatalf("Invalid -region: %v", err)
		}
		crop = ext
	}

	start := time.Now()

	r, err := gem.Open(*input)
	if err != nil {
		log.Fatalf("Failed to open GEM file: %v", err)
	}
	defer r.Close()

	hdr := r.Header()
	log.Printf("Input: %s (bin_type=%s, omics=%s, sample=%s, exon=%v)",
		*input, hdr.BinType, hdr.Omics, hdr.SampleID, hdr.HasExon)

	dict := gene.NewDictionary()
	results, summary, err := bin.Run(r, dict, bin.RunConfig{
		BinSizes:             binSizes,
		Region:               crop,
		MaxConsecutiveErrors: cfg.Convert.MaxConsecutiveErrors,
	})
	if err != nil {
		log.Fatalf("Aggregation failed: %v", err)
	}

	log.Printf("Parsed %d records (%d cropped, %d skipped) across %d genes",
		summary.Records, summary.Cropped, summary.Skipped, dict.Len())
	for _, le := range summary.First {
		log.Printf("  skipped line %d: %v", le.Line, le.Err)
	}

	omicsName := cfg.Convert.Omics
	if hdr.Omics != "" {
		omicsName = hdr.Omics
	}

	doc := &gef.Document{
		Resolution: cfg.Convert.Resolution,
		Omics:      omicsName,
		SampleID:   hdr.SampleID,
		BinType:    hdr.BinType,
		OffsetX:    hdr.OffsetX,
		OffsetY:    hdr.OffsetY,
		Dict:       dict,
		Bins:       results,
	}

	if *geneDB != "" {
		db, err := genedb.Open(*geneDB)
		if err != nil {
			log.Fatalf("Failed to open gene database: %v", err)
		}
		ids, err := db.ResolveAll(dict.Names())
		db.Close()
		if err != nil {
			log.Fatalf("Failed to resolve gene IDs: %v", err)
		}
		resolved := 0
		for _, id := range ids {
			if id != "" {
				resolved++
			}
		}
		log.Printf("Resolved %d/%d gene IDs", resolved, dict.Len())
		doc.GeneIDs = ids
	}

	if err := gef.Write(*output, doc); err != nil {
		log.Fatalf("Failed to write bGEF: %v", err)
	}

	if *tiledbOut != "" {
		if err := exportTileDB(*output, *tiledbOut, binSizes); err != nil {
			log.Fatalf("TileDB export failed: %v", err)
		}
	}

	log.Printf("Wrote %s in %s", *output, time.Since(start).Round(time.Millisecond))
}

// exportTileDB mirrors each dense wholeExp section into a TileDB array.
func exportTileDB(gefPath, uriPrefix string, binSizes []uint32) error {
	exp, err := tdbexport.NewExporter()
	if err != nil {
		return err
	}
	defer exp.Close()
	if !exp.Supported() {
		log.Printf("Skipping TileDB export: %v", tdbexport.ErrUnsupported)
		return nil
	}

	r, err := gefstore.Open(gefPath)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, b := range binSizes {
		uri := fmt.Sprintf("%s_bin%d", uriPrefix, b)
		if err := exp.ExportWhole(r, b, uri); err != nil {
			return fmt.Errorf("bin %d: %w", b, err)
		}
		log.Printf("Exported wholeExp/bin%d to %s", b, uri)
	}
	return nil
}

func parseBins(s string) ([]uint32, error) {
	parts := strings.Split(s, ",")
	out := make([]uint32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil || v == 0 {
			return nil, fmt.Errorf("bad bin size %q", p)
		}
		out = append(out, uint32(v))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bin sizes in %q", s)
	}
	return out, nil
}

func parseRegion(s string) (*coord.Extent, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("want minX,maxX,minY,maxY, got %q", s)
	}
	vals := make([]int64, 4)
	for i, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad coordinate %q", p)
		}
		vals[i] = v
	}
	ext := &coord.Extent{MinX: vals[0], MaxX: vals[1], MinY: vals[2], MaxY: vals[3]}
	if ext.MaxX < ext.MinX || ext.MaxY < ext.MinY {
		return nil, fmt.Errorf("inverted region %q", s)
	}
	return ext, nil
}
