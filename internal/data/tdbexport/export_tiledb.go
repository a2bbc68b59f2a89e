//go:build tiledb

// Package tdbexport exports the dense wholeExp section of a bGEF container
// to a TileDB dense array, so the binned slide can be consumed by TileDB
// tooling without going through the container reader.
package tdbexport

import (
	"errors"
	"fmt"

	tiledb "github.com/TileDB-Inc/TileDB-Go"

	"github.com/stereokit/gefkit/internal/data/gefstore"
	"github.com/stereokit/gefkit/internal/gef"
)

// ErrUnsupported is never returned in TileDB-enabled builds; it exists so
// callers can test against one sentinel regardless of build tags.
var ErrUnsupported = errors.New("tdbexport: built without TileDB support")

// tileExtent is the TileDB space-tile edge for the exported arrays.
const tileExtent int64 = 1024

// Exporter writes bGEF sections to TileDB arrays.
type Exporter struct {
	ctx *tiledb.Context
}

// NewExporter creates a TileDB exporter.
func NewExporter() (*Exporter, error) {
	ctx, err := tiledb.NewContext(nil)
	if err != nil {
		return nil, fmt.Errorf("tdbexport: create TileDB context: %w", err)
	}
	return &Exporter{ctx: ctx}, nil
}

// Supported reports whether TileDB export is available in this build.
func (e *Exporter) Supported() bool { return true }

// ExportWhole reads wholeExp/bin{N} from the container and materializes it
// as a 2-D dense TileDB array of uint32 MID counts at uri.
func (e *Exporter) ExportWhole(r *gefstore.Reader, binSize uint32, uri string) error {
	grp := gef.WholeGroup(binSize)
	shape, dtype, err := r.Shape(grp, gef.DataMIDCount)
	if err != nil {
		return fmt.Errorf("tdbexport: %w", err)
	}
	if dtype != gefstore.DTypeUint32 || len(shape) != 2 {
		return fmt.Errorf("tdbexport: %s has dtype %s shape %v, want 2-D uint32", grp, dtype, shape)
	}
	mat, err := r.Uint32s(grp, gef.DataMIDCount)
	if err != nil {
		return fmt.Errorf("tdbexport: %w", err)
	}
	rows, cols := int64(shape[0]), int64(shape[1])

	schema, err := e.denseSchema(rows, cols)
	if err != nil {
		return err
	}
	defer schema.Free()

	arr, err := tiledb.NewArray(e.ctx, uri)
	if err != nil {
		return fmt.Errorf("tdbexport: new array %s: %w", uri, err)
	}
	defer arr.Free()
	if err := arr.Create(schema); err != nil {
		return fmt.Errorf("tdbexport: create array %s: %w", uri, err)
	}
	if err := arr.Open(tiledb.TILEDB_WRITE); err != nil {
		return fmt.Errorf("tdbexport: open array for write: %w", err)
	}
	defer arr.Close()

	sub, err := arr.NewSubarray()
	if err != nil {
		return fmt.Errorf("tdbexport: new subarray: %w", err)
	}
	defer sub.Free()
	if err := sub.AddRangeByName("y", tiledb.MakeRange[int64](0, rows-1)); err != nil {
		return fmt.Errorf("tdbexport: add y range: %w", err)
	}
	if err := sub.AddRangeByName("x", tiledb.MakeRange[int64](0, cols-1)); err != nil {
		return fmt.Errorf("tdbexport: add x range: %w", err)
	}

	q, err := tiledb.NewQuery(e.ctx, arr)
	if err != nil {
		return fmt.Errorf("tdbexport: new query: %w", err)
	}
	defer q.Free()
	if err := q.SetSubarray(sub); err != nil {
		return fmt.Errorf("tdbexport: set subarray: %w", err)
	}
	if err := q.SetLayout(tiledb.TILEDB_ROW_MAJOR); err != nil {
		return fmt.Errorf("tdbexport: set layout: %w", err)
	}
	if _, err := q.SetDataBuffer(gef.DataMIDCount, mat); err != nil {
		return fmt.Errorf("tdbexport: set data buffer: %w", err)
	}
	if err := q.Submit(); err != nil {
		return fmt.Errorf("tdbexport: submit write: %w", err)
	}
	if err := q.Finalize(); err != nil {
		return fmt.Errorf("tdbexport: finalize write: %w", err)
	}
	return nil
}

func (e *Exporter) denseSchema(rows, cols int64) (*tiledb.ArraySchema, error) {
	domain, err := tiledb.NewDomain(e.ctx)
	if err != nil {
		return nil, fmt.Errorf("tdbexport: new domain: %w", err)
	}

	extY := tileExtent
	if rows < extY {
		extY = rows
	}
	extX := tileExtent
	if cols < extX {
		extX = cols
	}
	dimY, err := tiledb.NewDimension(e.ctx, "y", tiledb.TILEDB_INT64, []int64{0, rows - 1}, extY)
	if err != nil {
		return nil, fmt.Errorf("tdbexport: new y dimension: %w", err)
	}
	dimX, err := tiledb.NewDimension(e.ctx, "x", tiledb.TILEDB_INT64, []int64{0, cols - 1}, extX)
	if err != nil {
		return nil, fmt.Errorf("tdbexport: new x dimension: %w", err)
	}
	if err := domain.AddDimensions(dimY, dimX); err != nil {
		return nil, fmt.Errorf("tdbexport: add dimensions: %w", err)
	}

	schema, err := tiledb.NewArraySchema(e.ctx, tiledb.TILEDB_DENSE)
	if err != nil {
		return nil, fmt.Errorf("tdbexport: new schema: %w", err)
	}
	if err := schema.SetDomain(domain); err != nil {
		return nil, fmt.Errorf("tdbexport: set domain: %w", err)
	}
	attr, err := tiledb.NewAttribute(e.ctx, gef.DataMIDCount, tiledb.TILEDB_UINT32)
	if err != nil {
		return nil, fmt.Errorf("tdbexport: new attribute: %w", err)
	}
	if err := schema.AddAttributes(attr); err != nil {
		return nil, fmt.Errorf("tdbexport: add attribute: %w", err)
	}
	return schema, nil
}

// Close releases the TileDB context.
func (e *Exporter) Close() {
	if e.ctx != nil {
		e.ctx.Free()
	}
}
