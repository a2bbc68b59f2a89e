package cache

import (
	"testing"
	"time"
)

func TestTileKeys(t *testing.T) {
	t.Run("density", func(t *testing.T) {
		got := DensityTileKey(50, 2, 1, 3, "viridis")
		want := "dens:bin50:2/1/3:viridis"
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("expression", func(t *testing.T) {
		got := ExpressionTileKey(1, "Gfap", 0, 0, 0, "magma")
		want := "expr:bin1:Gfap:0/0/0:magma"
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	})

	t.Run("distinctBinSizes", func(t *testing.T) {
		if DensityTileKey(1, 0, 0, 0, "viridis") == DensityTileKey(20, 0, 0, 0, "viridis") {
			t.Fatal("expected distinct keys for distinct bin sizes")
		}
	})
}

func TestManager_RoundTrip(t *testing.T) {
	m, err := NewManager(Config{
		TileCacheSizeMB: 8,
		TileTTL:         time.Minute,
		GeneCacheSize:   4,
	})
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	defer m.Close()

	key := DensityTileKey(1, 0, 0, 0, "viridis")
	if _, ok := m.GetTile(key); ok {
		t.Fatal("expected miss on empty cache")
	}
	if err := m.SetTile(key, []byte("png-bytes")); err != nil {
		t.Fatalf("failed to set tile: %v", err)
	}
	got, ok := m.GetTile(key)
	if !ok || string(got) != "png-bytes" {
		t.Fatalf("unexpected tile value: %q ok=%v", got, ok)
	}

	gk := GeneKey(1, "Gfap")
	m.SetGene(gk, []byte{1, 2, 3})
	block, ok := m.GetGene(gk)
	if !ok || len(block) != 3 {
		t.Fatalf("unexpected gene block: %v ok=%v", block, ok)
	}
}
