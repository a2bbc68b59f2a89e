// Package render provides tile rendering using fogleman/gg.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"sync"

	"github.com/fogleman/gg"

	"github.com/stereokit/gefkit/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	TileSize        int
	DefaultColormap string
}

// Cell is one square bin to paint, addressed in global bin-grid
// coordinates with an already-resolved count.
type Cell struct {
	X     int64
	Y     int64
	Count uint32
}

// TileRenderer renders tiles from binned expression counts.
type TileRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
}

// NewTileRenderer creates a new tile renderer.
func NewTileRenderer(cfg Config) *TileRenderer {
	return &TileRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.TileSize, cfg.TileSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
	}
}

// RenderTile renders cells into a tile, scaling counts to [0, 1] with a
// log ramp against maxCount. Cells are in global bin coordinates; the
// tile covers binsPerTileAxis bins per axis starting at
// (tileX*binsPerTileAxis, tileY*binsPerTileAxis).
func (r *TileRenderer) RenderTile(cells []Cell, maxCount uint32, binsPerTileAxis int, tileX, tileY int, colormapName string) ([]byte, error) {
	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	if len(cells) == 0 {
		return r.encodeContext(dc)
	}

	cmap := colormap.ByName(colormapName)
	if colormapName == "" {
		cmap = colormap.ByName(r.config.DefaultColormap)
	}

	logMax := math.Log1p(float64(maxCount))
	if logMax == 0 {
		logMax = 1
	}

	tileSize := float64(r.config.TileSize)
	if binsPerTileAxis <= 0 {
		binsPerTileAxis = 1
	}
	nBinsPerTile := float64(binsPerTileAxis)
	cellSize := tileSize / nBinsPerTile

	for _, cell := range cells {
		// Convert global bin coords to tile-local pixels
		localX := float64(cell.X) - float64(tileX)*nBinsPerTile
		localY := float64(cell.Y) - float64(tileY)*nBinsPerTile

		px := localX * cellSize
		py := localY * cellSize

		if px < 0 || px >= tileSize || py < 0 || py >= tileSize {
			continue
		}

		intensity := math.Log1p(float64(cell.Count)) / logMax
		dc.SetColor(cmap.At(intensity))

		dc.DrawRectangle(px, py, cellSize, cellSize)
		dc.Fill()
	}

	return r.encodeContext(dc)
}

func (r *TileRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}

// CreateEmptyTile creates an empty transparent tile.
func (r *TileRenderer) CreateEmptyTile() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.TileSize, r.config.TileSize))
	// Fill with transparent white
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255   // R
		img.Pix[i+1] = 255 // G
		img.Pix[i+2] = 255 // B
		img.Pix[i+3] = 0   // A (transparent)
	}

	buf := bytes.NewBuffer(nil)
	if err := png.Encode(buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
