package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FullFile(t *testing.T) {
	content := `
convert:
  bins: [1, 10]
  resolution: 715
  omics: "Proteomics"
server:
  port: 9000
cache:
  tile_size_mb: 256
`
	cfg := loadFromString(t, content)

	if len(cfg.Convert.Bins) != 2 || cfg.Convert.Bins[0] != 1 || cfg.Convert.Bins[1] != 10 {
		t.Errorf("unexpected bins: %v", cfg.Convert.Bins)
	}
	if cfg.Convert.Resolution != 715 {
		t.Errorf("expected resolution 715, got %d", cfg.Convert.Resolution)
	}
	if cfg.Convert.Omics != "Proteomics" {
		t.Errorf("unexpected omics: %q", cfg.Convert.Omics)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Cache.TileSizeMB != 256 {
		t.Errorf("expected cache size 256, got %d", cfg.Cache.TileSizeMB)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	want := []uint32{1, 20, 50, 100}
	if len(cfg.Convert.Bins) != len(want) {
		t.Fatalf("expected default bins %v, got %v", want, cfg.Convert.Bins)
	}
	for i, b := range want {
		if cfg.Convert.Bins[i] != b {
			t.Errorf("bins[%d]: expected %d, got %d", i, b, cfg.Convert.Bins[i])
		}
	}
	if cfg.Convert.Resolution != 500 {
		t.Errorf("expected default resolution 500, got %d", cfg.Convert.Resolution)
	}
	if cfg.Convert.Omics != "Transcriptomics" {
		t.Errorf("unexpected default omics: %q", cfg.Convert.Omics)
	}
	if cfg.Cache.TileSizeMB != 512 {
		t.Errorf("expected default cache size 512, got %d", cfg.Cache.TileSizeMB)
	}
	if cfg.Render.TileSize != 256 {
		t.Errorf("expected default tile size 256, got %d", cfg.Render.TileSize)
	}
	if cfg.Render.DefaultColormap != "viridis" {
		t.Errorf("unexpected default colormap: %q", cfg.Render.DefaultColormap)
	}
}

func TestLoad_MissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Convert.MaxConsecutiveErrors != 100 {
		t.Errorf("expected default error threshold 100, got %d", cfg.Convert.MaxConsecutiveErrors)
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
