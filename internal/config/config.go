// Package config handles configuration loading for the gefkit tools.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds settings for both the converter and the preview server.
type Config struct {
	Convert ConvertConfig `yaml:"convert"`
	Server  ServerConfig  `yaml:"server"`
	Cache   CacheConfig   `yaml:"cache"`
	Render  RenderConfig  `yaml:"render"`
}

// ConvertConfig contains GEM-to-bGEF conversion settings.
type ConvertConfig struct {
	Bins       []uint32 `yaml:"bins"`
	Resolution uint32   `yaml:"resolution"`
	Omics      string   `yaml:"omics"`
	// MaxConsecutiveErrors aborts a conversion after this many malformed
	// input lines in a row; 0 disables the threshold.
	MaxConsecutiveErrors int `yaml:"max_consecutive_errors"`
}

// ServerConfig contains HTTP preview-server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	TileSizeMB     int `yaml:"tile_size_mb"`
	TileTTLMinutes int `yaml:"tile_ttl_minutes"`
	GeneCacheSize  int `yaml:"gene_cache_size"`
}

// RenderConfig contains tile-rendering settings.
type RenderConfig struct {
	TileSize        int    `yaml:"tile_size"`
	DefaultColormap string `yaml:"default_colormap"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Apply defaults for missing values
	applyDefaults(&cfg)

	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Convert: ConvertConfig{
			Bins:                 []uint32{1, 20, 50, 100},
			Resolution:           500,
			Omics:                "Transcriptomics",
			MaxConsecutiveErrors: 100,
		},
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Cache: CacheConfig{
			TileSizeMB:     512,
			TileTTLMinutes: 10,
			GeneCacheSize:  256,
		},
		Render: RenderConfig{
			TileSize:        256,
			DefaultColormap: "viridis",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if len(cfg.Convert.Bins) == 0 {
		cfg.Convert.Bins = defaults.Convert.Bins
	}
	if cfg.Convert.Resolution == 0 {
		cfg.Convert.Resolution = defaults.Convert.Resolution
	}
	if cfg.Convert.Omics == "" {
		cfg.Convert.Omics = defaults.Convert.Omics
	}
	if cfg.Convert.MaxConsecutiveErrors == 0 {
		cfg.Convert.MaxConsecutiveErrors = defaults.Convert.MaxConsecutiveErrors
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Cache.TileSizeMB == 0 {
		cfg.Cache.TileSizeMB = defaults.Cache.TileSizeMB
	}
	if cfg.Cache.TileTTLMinutes == 0 {
		cfg.Cache.TileTTLMinutes = defaults.Cache.TileTTLMinutes
	}
	if cfg.Cache.GeneCacheSize == 0 {
		cfg.Cache.GeneCacheSize = defaults.Cache.GeneCacheSize
	}
	if cfg.Render.TileSize == 0 {
		cfg.Render.TileSize = defaults.Render.TileSize
	}
	if cfg.Render.DefaultColormap == "" {
		cfg.Render.DefaultColormap = defaults.Render.DefaultColormap
	}
}
