// Package cache provides caching for rendered tiles and gene queries.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Config contains cache configuration.
type Config struct {
	TileCacheSizeMB int
	TileTTL         time.Duration
	GeneCacheSize   int
}

// Manager manages the encoded-tile and gene-expression caches.
type Manager struct {
	tileCache *bigcache.BigCache
	geneCache *lru.Cache[string, []byte]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	tileCacheConfig := bigcache.Config{
		Shards:             1024,
		LifeWindow:         cfg.TileTTL,
		CleanWindow:        cfg.TileTTL / 2,
		MaxEntriesInWindow: 100000,
		MaxEntrySize:       100 * 1024, // 100KB per tile
		HardMaxCacheSize:   cfg.TileCacheSizeMB,
		Verbose:            false,
	}

	tileCache, err := bigcache.New(context.Background(), tileCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create tile cache: %w", err)
	}

	geneCache, err := lru.New[string, []byte](cfg.GeneCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create gene cache: %w", err)
	}

	return &Manager{
		tileCache: tileCache,
		geneCache: geneCache,
	}, nil
}

// GetTile retrieves an encoded tile from cache.
func (m *Manager) GetTile(key string) ([]byte, bool) {
	data, err := m.tileCache.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetTile stores an encoded tile in cache.
func (m *Manager) SetTile(key string, data []byte) error {
	return m.tileCache.Set(key, data)
}

// GetGene retrieves a gene's sliced expression block from cache.
func (m *Manager) GetGene(key string) ([]byte, bool) {
	return m.geneCache.Get(key)
}

// SetGene stores a gene's sliced expression block in cache.
func (m *Manager) SetGene(key string, data []byte) {
	m.geneCache.Add(key, data)
}

// DensityTileKey generates a cache key for an MID-density tile.
func DensityTileKey(binSize uint32, z, x, y int, colormap string) string {
	return fmt.Sprintf("dens:bin%d:%d/%d/%d:%s", binSize, z, x, y, colormap)
}

// ExpressionTileKey generates a cache key for a single-gene expression tile.
func ExpressionTileKey(binSize uint32, gene string, z, x, y int, colormap string) string {
	return fmt.Sprintf("expr:bin%d:%s:%d/%d/%d:%s", binSize, gene, z, x, y, colormap)
}

// GeneKey generates a cache key for a gene's expression block.
func GeneKey(binSize uint32, gene string) string {
	return fmt.Sprintf("gene:bin%d:%s", binSize, gene)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"tile_cache_len": m.tileCache.Len(),
		"tile_cache_cap": m.tileCache.Capacity(),
		"gene_cache_len": m.geneCache.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.tileCache.Close()
}
