// Package service provides business logic for the bGEF preview server.
package service

import (
	"fmt"
	"math"
	"sync"

	"github.com/stereokit/gefkit/internal/cache"
	"github.com/stereokit/gefkit/internal/data/gefstore"
	"github.com/stereokit/gefkit/internal/gef"
	"github.com/stereokit/gefkit/internal/render"
)

// TileServiceConfig contains tile service configuration.
type TileServiceConfig struct {
	Store    *gefstore.Reader
	Cache    *cache.Manager
	Renderer *render.TileRenderer
}

// TileService serves tiles and gene queries from one bGEF container.
type TileService struct {
	store    *gefstore.Reader
	cache    *cache.Manager
	renderer *render.TileRenderer

	meta *Metadata

	// Per-bin-size section cache
	sectionMu    sync.Mutex
	sectionCache map[uint32]*binSection
	sectionErr   map[uint32]error
}

// Metadata describes the container for clients.
type Metadata struct {
	Version    uint64   `json:"version"`
	SampleID   string   `json:"sample_id"`
	Omics      string   `json:"omics"`
	BinType    string   `json:"bin_type"`
	Resolution uint64   `json:"resolution"`
	OffsetX    int64    `json:"offset_x"`
	OffsetY    int64    `json:"offset_y"`
	BinSizes   []uint32 `json:"bin_sizes"`
}

// GeneStats summarizes one gene at one bin size.
type GeneStats struct {
	Gene     string `json:"gene"`
	GeneID   string `json:"gene_id,omitempty"`
	BinSize  uint32 `json:"bin_size"`
	BinCount int    `json:"bin_count"`
	TotalMID uint64 `json:"total_mid"`
	MaxMID   uint64 `json:"max_mid"`
	MinX     int64  `json:"min_x"`
	MaxX     int64  `json:"max_x"`
	MinY     int64  `json:"min_y"`
	MaxY     int64  `json:"max_y"`
}

// binSection holds one bin size's arrays, loaded lazily and kept resident.
type binSection struct {
	binSize uint32

	// Bin-space grid
	minX, minY int64
	lenX, lenY uint64
	renderZoom int

	geneNames  []string
	geneIDs    []string // nil when the container has no ID table
	geneOffset []uint64
	geneCount  []uint32
	xs, ys     []int64
	mids       []uint64
	nameToIdx  map[string]int

	// Dense whole-slide matrix; nil when the container skipped the section.
	matrix []uint32
	maxMID uint32
}

// NewTileService creates a new tile service, reading container metadata
// up front.
func NewTileService(cfg TileServiceConfig) (*TileService, error) {
	s := &TileService{
		store:        cfg.Store,
		cache:        cfg.Cache,
		renderer:     cfg.Renderer,
		sectionCache: make(map[uint32]*binSection),
		sectionErr:   make(map[uint32]error),
	}
	meta, err := s.loadMetadata()
	if err != nil {
		return nil, err
	}
	s.meta = meta
	return s, nil
}

func (s *TileService) loadMetadata() (*Metadata, error) {
	md := &Metadata{}

	attr, ok := s.store.Attr("", gef.AttrVersion)
	if !ok {
		return nil, fmt.Errorf("container has no version attribute")
	}
	md.Version = attr.Uint

	if attr, ok = s.store.Attr("", gef.AttrSampleID); ok {
		md.SampleID = attr.Str
	}
	if attr, ok = s.store.Attr("", gef.AttrOmics); ok {
		md.Omics = attr.Str
	}
	if attr, ok = s.store.Attr("", gef.AttrBinType); ok {
		md.BinType = attr.Str
	}
	if attr, ok = s.store.Attr("", gef.AttrResolution); ok {
		md.Resolution = attr.Uint
	}
	if attr, ok = s.store.Attr("", gef.AttrOffsetX); ok {
		md.OffsetX = attr.Int
	}
	if attr, ok = s.store.Attr("", gef.AttrOffsetY); ok {
		md.OffsetY = attr.Int
	}

	attr, ok = s.store.Attr("", gef.AttrBinList)
	if !ok {
		return nil, fmt.Errorf("container has no bin list attribute")
	}
	for _, v := range attr.List {
		md.BinSizes = append(md.BinSizes, uint32(v))
	}
	if len(md.BinSizes) == 0 {
		return nil, fmt.Errorf("container has no bin sizes")
	}
	return md, nil
}

// Metadata returns container metadata.
func (s *TileService) Metadata() *Metadata {
	return s.meta
}

// HasBinSize reports whether the container carries the given bin size.
func (s *TileService) HasBinSize(binSize uint32) bool {
	for _, b := range s.meta.BinSizes {
		if b == binSize {
			return true
		}
	}
	return false
}

// section lazily loads one bin size's arrays.
func (s *TileService) section(binSize uint32) (*binSection, error) {
	s.sectionMu.Lock()
	defer s.sectionMu.Unlock()

	if sec, ok := s.sectionCache[binSize]; ok {
		return sec, s.sectionErr[binSize]
	}

	sec, err := s.loadSection(binSize)
	s.sectionCache[binSize] = sec
	s.sectionErr[binSize] = err
	return sec, err
}

func (s *TileService) loadSection(binSize uint32) (*binSection, error) {
	if !s.HasBinSize(binSize) {
		return nil, fmt.Errorf("bin size %d not in container", binSize)
	}

	grp := gef.BinGroup(binSize)
	sec := &binSection{binSize: binSize}

	var err error
	if sec.geneNames, err = s.store.Strings(grp, gef.DataGeneNames); err != nil {
		return nil, fmt.Errorf("failed to load gene names: %w", err)
	}
	if ids, err := s.store.Strings(grp, gef.DataGeneIDs); err == nil {
		sec.geneIDs = ids
	}
	if sec.geneOffset, err = s.store.Uint64s(grp, gef.DataGeneOffset); err != nil {
		return nil, fmt.Errorf("failed to load gene offsets: %w", err)
	}
	if sec.geneCount, err = s.store.Uint32s(grp, gef.DataGeneCount); err != nil {
		return nil, fmt.Errorf("failed to load gene counts: %w", err)
	}
	if sec.xs, err = s.store.Int64s(grp, gef.DataX); err != nil {
		return nil, fmt.Errorf("failed to load x coords: %w", err)
	}
	if sec.ys, err = s.store.Int64s(grp, gef.DataY); err != nil {
		return nil, fmt.Errorf("failed to load y coords: %w", err)
	}
	if sec.mids, err = s.store.Uint64s(grp, gef.DataMIDCount); err != nil {
		return nil, fmt.Errorf("failed to load MID counts: %w", err)
	}

	sec.nameToIdx = make(map[string]int, len(sec.geneNames))
	for i, name := range sec.geneNames {
		sec.nameToIdx[name] = i
	}

	// The dense wholeExp section carries the bin-space grid. Large slides
	// may have skipped it; fall back to scanning the sparse coords.
	wgrp := gef.WholeGroup(binSize)
	if attr, ok := s.store.Attr(wgrp, gef.AttrMinX); ok {
		sec.minX = attr.Int
		if attr, ok = s.store.Attr(wgrp, gef.AttrMinY); !ok {
			return nil, fmt.Errorf("%s: missing minY attribute", wgrp)
		}
		sec.minY = attr.Int
		if attr, ok = s.store.Attr(wgrp, gef.AttrLenX); !ok {
			return nil, fmt.Errorf("%s: missing lenX attribute", wgrp)
		}
		sec.lenX = attr.Uint
		if attr, ok = s.store.Attr(wgrp, gef.AttrLenY); !ok {
			return nil, fmt.Errorf("%s: missing lenY attribute", wgrp)
		}
		sec.lenY = attr.Uint
		if attr, ok = s.store.Attr(wgrp, gef.AttrMaxMID); ok {
			sec.maxMID = uint32(attr.Uint)
		}
		mat, err := s.store.Uint32s(wgrp, gef.DataMIDCount)
		if err != nil {
			return nil, fmt.Errorf("failed to load dense matrix: %w", err)
		}
		if uint64(len(mat)) != sec.lenX*sec.lenY {
			return nil, fmt.Errorf("%s: matrix has %d cells, grid is %dx%d", wgrp, len(mat), sec.lenY, sec.lenX)
		}
		sec.matrix = mat
	} else {
		sec.minX, sec.minY, sec.lenX, sec.lenY = sparseGrid(sec.xs, sec.ys)
	}

	sec.renderZoom = zoomFor(sec.lenX, sec.lenY)
	return sec, nil
}

// sparseGrid derives the bin-space grid from the sparse coordinate arrays.
func sparseGrid(xs, ys []int64) (minX, minY int64, lenX, lenY uint64) {
	if len(xs) == 0 {
		return 0, 0, 1, 1
	}
	minX, minY = xs[0], ys[0]
	maxX, maxY := xs[0], ys[0]
	for i := 1; i < len(xs); i++ {
		if xs[i] < minX {
			minX = xs[i]
		}
		if xs[i] > maxX {
			maxX = xs[i]
		}
		if ys[i] < minY {
			minY = ys[i]
		}
		if ys[i] > maxY {
			maxY = ys[i]
		}
	}
	return minX, minY, uint64(maxX-minX) + 1, uint64(maxY-minY) + 1
}

// zoomFor picks the deepest zoom whose 2^z grid covers both axes.
func zoomFor(lenX, lenY uint64) int {
	span := lenX
	if lenY > span {
		span = lenY
	}
	z := 0
	for uint64(1)<<z < span {
		z++
	}
	return z
}

// cellsForTile returns the window of bins covered by tile (x, y) at zoom z
// plus the bins-per-tile-axis count. Coordinates are grid-normalized so the
// renderer can address the tile directly.
func (s *TileService) cellsForTile(sec *binSection, z, x, y int, geneIdx int) ([]render.Cell, int, error) {
	if z < 0 || z > sec.renderZoom {
		return nil, 0, fmt.Errorf("invalid zoom level: %d", z)
	}
	tilesPerAxis := 1 << z
	if x < 0 || y < 0 || x >= tilesPerAxis || y >= tilesPerAxis {
		return nil, 0, fmt.Errorf("tile out of range: %d/%d (tiles_per_axis=%d)", x, y, tilesPerAxis)
	}

	binsPerTileAxis := 1 << (sec.renderZoom - z)
	startX := int64(x * binsPerTileAxis)
	endX := int64((x + 1) * binsPerTileAxis)
	startY := int64(y * binsPerTileAxis)
	endY := int64((y + 1) * binsPerTileAxis)

	cells := make([]render.Cell, 0, 256)
	if geneIdx < 0 {
		// Density view over the dense whole-slide matrix
		if sec.matrix == nil {
			return nil, 0, fmt.Errorf("bin %d has no dense summary", sec.binSize)
		}
		if endX > int64(sec.lenX) {
			endX = int64(sec.lenX)
		}
		if endY > int64(sec.lenY) {
			endY = int64(sec.lenY)
		}
		for gy := startY; gy < endY; gy++ {
			row := uint64(gy) * sec.lenX
			for gx := startX; gx < endX; gx++ {
				if c := sec.matrix[row+uint64(gx)]; c > 0 {
					cells = append(cells, render.Cell{X: gx, Y: gy, Count: c})
				}
			}
		}
		return cells, binsPerTileAxis, nil
	}

	// Single-gene view over the gene's sparse block
	off := sec.geneOffset[geneIdx]
	cnt := uint64(sec.geneCount[geneIdx])
	for i := off; i < off+cnt; i++ {
		gx := sec.xs[i] - sec.minX
		gy := sec.ys[i] - sec.minY
		if gx < startX || gx >= endX || gy < startY || gy >= endY {
			continue
		}
		c := sec.mids[i]
		if c > math.MaxUint32 {
			c = math.MaxUint32
		}
		cells = append(cells, render.Cell{X: gx, Y: gy, Count: uint32(c)})
	}
	return cells, binsPerTileAxis, nil
}

// GetDensityTile returns a rendered whole-slide MID-density tile PNG.
func (s *TileService) GetDensityTile(binSize uint32, z, x, y int, colormap string) ([]byte, error) {
	cacheKey := cache.DensityTileKey(binSize, z, x, y, colormap)
	if data, ok := s.cache.GetTile(cacheKey); ok {
		return data, nil
	}

	sec, err := s.section(binSize)
	if err != nil {
		return nil, err
	}

	cells, binsPerTileAxis, err := s.cellsForTile(sec, z, x, y, -1)
	if err != nil {
		return nil, err
	}

	data, err := s.renderer.RenderTile(cells, sec.maxMID, binsPerTileAxis, x, y, colormap)
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}

	s.cache.SetTile(cacheKey, data)
	return data, nil
}

// GetExpressionTile returns a tile colored by one gene's MID counts.
func (s *TileService) GetExpressionTile(binSize uint32, gene string, z, x, y int, colormap string) ([]byte, error) {
	cacheKey := cache.ExpressionTileKey(binSize, gene, z, x, y, colormap)
	if data, ok := s.cache.GetTile(cacheKey); ok {
		return data, nil
	}

	sec, err := s.section(binSize)
	if err != nil {
		return nil, err
	}

	geneIdx, ok := sec.nameToIdx[gene]
	if !ok {
		return nil, fmt.Errorf("gene not found: %s", gene)
	}

	cells, binsPerTileAxis, err := s.cellsForTile(sec, z, x, y, geneIdx)
	if err != nil {
		return nil, err
	}

	// Normalize against the gene's own peak so sparse genes stay visible
	var geneMax uint32
	for _, c := range cells {
		if c.Count > geneMax {
			geneMax = c.Count
		}
	}
	if stats, err := s.GetGeneStats(binSize, gene); err == nil && stats.MaxMID <= math.MaxUint32 {
		geneMax = uint32(stats.MaxMID)
	}

	data, err := s.renderer.RenderTile(cells, geneMax, binsPerTileAxis, x, y, colormap)
	if err != nil {
		return nil, fmt.Errorf("failed to render tile: %w", err)
	}

	s.cache.SetTile(cacheKey, data)
	return data, nil
}

// GetEmptyTile returns an empty tile.
func (s *TileService) GetEmptyTile() ([]byte, error) {
	return s.renderer.CreateEmptyTile()
}

// Genes returns the gene symbols of one bin size in dictionary order.
func (s *TileService) Genes(binSize uint32) ([]string, error) {
	sec, err := s.section(binSize)
	if err != nil {
		return nil, err
	}
	return sec.geneNames, nil
}

// RenderZoom returns the deepest zoom level for one bin size.
func (s *TileService) RenderZoom(binSize uint32) (int, error) {
	sec, err := s.section(binSize)
	if err != nil {
		return 0, err
	}
	return sec.renderZoom, nil
}

// GetGeneStats computes per-gene statistics over the gene's sparse block.
func (s *TileService) GetGeneStats(binSize uint32, gene string) (*GeneStats, error) {
	sec, err := s.section(binSize)
	if err != nil {
		return nil, err
	}

	geneIdx, ok := sec.nameToIdx[gene]
	if !ok {
		return nil, fmt.Errorf("gene not found: %s", gene)
	}

	stats := &GeneStats{
		Gene:    gene,
		BinSize: binSize,
	}
	if sec.geneIDs != nil {
		stats.GeneID = sec.geneIDs[geneIdx]
	}

	off := sec.geneOffset[geneIdx]
	cnt := uint64(sec.geneCount[geneIdx])
	stats.BinCount = int(cnt)
	if cnt == 0 {
		return stats, nil
	}

	stats.MinX, stats.MaxX = sec.xs[off], sec.xs[off]
	stats.MinY, stats.MaxY = sec.ys[off], sec.ys[off]
	for i := off; i < off+cnt; i++ {
		stats.TotalMID += sec.mids[i]
		if sec.mids[i] > stats.MaxMID {
			stats.MaxMID = sec.mids[i]
		}
		if sec.xs[i] < stats.MinX {
			stats.MinX = sec.xs[i]
		}
		if sec.xs[i] > stats.MaxX {
			stats.MaxX = sec.xs[i]
		}
		if sec.ys[i] < stats.MinY {
			stats.MinY = sec.ys[i]
		}
		if sec.ys[i] > stats.MaxY {
			stats.MaxY = sec.ys[i]
		}
	}
	return stats, nil
}
