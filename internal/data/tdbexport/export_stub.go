//go:build !tiledb

package tdbexport

import (
	"errors"

	"github.com/stereokit/gefkit/internal/data/gefstore"
)

// ErrUnsupported is returned by all export methods when built without
// "-tags tiledb".
var ErrUnsupported = errors.New("tdbexport: built without TileDB support")

// Exporter is a stub when built without "-tags tiledb".
type Exporter struct{}

// NewExporter creates a TileDB exporter (stub).
func NewExporter() (*Exporter, error) {
	return &Exporter{}, nil
}

// Supported reports whether TileDB export is available in this build.
func (e *Exporter) Supported() bool { return false }

// ExportWhole exports a wholeExp section to a TileDB dense array (stub).
func (e *Exporter) ExportWhole(r *gefstore.Reader, binSize uint32, uri string) error {
	return ErrUnsupported
}

// Close releases resources (stub).
func (e *Exporter) Close() {}
