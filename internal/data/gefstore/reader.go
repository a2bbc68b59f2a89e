package gefstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/klauspost/compress/zstd"
)

// Reader provides random access to a committed container file.
type Reader struct {
	f   *os.File
	dec *zstd.Decoder
	idx fileIndex
}

// Open validates the container and loads its index.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gefstore: open %s: %w", path, err)
	}
	r := &Reader{f: f}
	if err := r.load(); err != nil {
		f.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gefstore: zstd decoder: %w", err)
	}
	r.dec = dec
	return r, nil
}

func (r *Reader) load() error {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r.f, hdr[:]); err != nil {
		return fmt.Errorf("%w: short header", ErrBadMagic)
	}
	if string(hdr[:len(Magic)]) != Magic {
		return ErrBadMagic
	}
	if v := binary.LittleEndian.Uint32(hdr[len(Magic):]); v != FormatVersion {
		return fmt.Errorf("%w: %d", ErrBadVersion, v)
	}

	fi, err := r.f.Stat()
	if err != nil {
		return fmt.Errorf("gefstore: stat: %w", err)
	}
	if fi.Size() < int64(headerSize+footerSize) {
		return fmt.Errorf("%w: file too short", ErrCorrupt)
	}

	var footer [footerSize]byte
	if _, err := r.f.ReadAt(footer[:], fi.Size()-int64(footerSize)); err != nil {
		return fmt.Errorf("gefstore: read footer: %w", err)
	}
	if string(footer[12:]) != Magic {
		return fmt.Errorf("%w: footer magic", ErrBadMagic)
	}
	idxOffset := binary.LittleEndian.Uint64(footer[0:])
	idxLen := binary.LittleEndian.Uint32(footer[8:])
	if int64(idxOffset)+int64(idxLen) != fi.Size()-int64(footerSize) {
		return fmt.Errorf("%w: index range [%d, +%d) disagrees with file size %d",
			ErrCorrupt, idxOffset, idxLen, fi.Size())
	}

	idxBytes := make([]byte, idxLen)
	if _, err := r.f.ReadAt(idxBytes, int64(idxOffset)); err != nil {
		return fmt.Errorf("gefstore: read index: %w", err)
	}
	if err := json.Unmarshal(idxBytes, &r.idx); err != nil {
		return fmt.Errorf("%w: index json: %v", ErrCorrupt, err)
	}
	if r.idx.Version != FormatVersion {
		return fmt.Errorf("%w: index version %d", ErrBadVersion, r.idx.Version)
	}
	return nil
}

// Version returns the container layout version.
func (r *Reader) Version() uint32 {
	return r.idx.Version
}

// Attr fetches an attribute; group "" addresses the root.
func (r *Reader) Attr(group, key string) (Attr, bool) {
	if group == "" {
		a, ok := r.idx.Attrs[key]
		return a, ok
	}
	g := r.idx.group(group, false)
	if g == nil {
		return Attr{}, false
	}
	a, ok := g.Attrs[key]
	return a, ok
}

// Groups returns all group names in sorted order.
func (r *Reader) Groups() []string {
	out := make([]string, 0, len(r.idx.Groups))
	for name := range r.idx.Groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Datasets returns the dataset names within a group, sorted.
func (r *Reader) Datasets(group string) ([]string, error) {
	g := r.idx.group(group, false)
	if g == nil {
		return nil, fmt.Errorf("%w: group %q", ErrNotFound, group)
	}
	out := make([]string, 0, len(g.Datasets))
	for name := range g.Datasets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// Shape returns a dataset's shape and element type.
func (r *Reader) Shape(group, name string) ([]uint64, DType, error) {
	ds, err := r.dataset(group, name)
	if err != nil {
		return nil, "", err
	}
	shape := make([]uint64, len(ds.Shape))
	copy(shape, ds.Shape)
	return shape, ds.DType, nil
}

func (r *Reader) dataset(group, name string) (datasetIndex, error) {
	g := r.idx.group(group, false)
	if g == nil {
		return datasetIndex{}, fmt.Errorf("%w: group %q", ErrNotFound, group)
	}
	ds, ok := g.Datasets[name]
	if !ok {
		return datasetIndex{}, fmt.Errorf("%w: dataset %s/%s", ErrNotFound, group, name)
	}
	return ds, nil
}

// raw reads and decompresses one dataset payload, verifying both the
// compressed and raw lengths recorded in the index.
func (r *Reader) raw(group, name string, want DType) ([]byte, datasetIndex, error) {
	ds, err := r.dataset(group, name)
	if err != nil {
		return nil, ds, err
	}
	if ds.DType != want {
		return nil, ds, fmt.Errorf("gefstore: dataset %s/%s is %s, want %s", group, name, ds.DType, want)
	}

	comp := make([]byte, ds.CompLen)
	if _, err := r.f.ReadAt(comp, int64(ds.Offset)); err != nil {
		return nil, ds, fmt.Errorf("gefstore: read %s/%s: %w", group, name, err)
	}
	raw, err := r.dec.DecodeAll(comp, nil)
	if err != nil {
		return nil, ds, fmt.Errorf("%w: %s/%s: zstd: %v", ErrCorrupt, group, name, err)
	}
	if uint64(len(raw)) != ds.RawLen {
		return nil, ds, fmt.Errorf("%w: %s/%s raw length %d, index says %d",
			ErrCorrupt, group, name, len(raw), ds.RawLen)
	}
	if sz, fixed := want.fixedSize(); fixed {
		n, err := elements(ds.Shape)
		if err != nil {
			return nil, ds, err
		}
		if uint64(len(raw)) != n*uint64(sz) {
			return nil, ds, fmt.Errorf("%w: %s/%s has %d bytes, shape %v needs %d",
				ErrCorrupt, group, name, len(raw), ds.Shape, n*uint64(sz))
		}
	}
	return raw, ds, nil
}

// Uint32s reads a uint32 dataset flattened in row-major order.
func (r *Reader) Uint32s(group, name string) ([]uint32, error) {
	raw, _, err := r.raw(group, name, DTypeUint32)
	if err != nil {
		return nil, err
	}
	return decodeUint32s(raw)
}

// Uint64s reads a uint64 dataset.
func (r *Reader) Uint64s(group, name string) ([]uint64, error) {
	raw, _, err := r.raw(group, name, DTypeUint64)
	if err != nil {
		return nil, err
	}
	return decodeUint64s(raw)
}

// Int64s reads an int64 dataset.
func (r *Reader) Int64s(group, name string) ([]int64, error) {
	raw, _, err := r.raw(group, name, DTypeInt64)
	if err != nil {
		return nil, err
	}
	return decodeInt64s(raw)
}

// Strings reads a string dataset.
func (r *Reader) Strings(group, name string) ([]string, error) {
	raw, ds, err := r.raw(group, name, DTypeString)
	if err != nil {
		return nil, err
	}
	out, err := decodeStrings(raw)
	if err != nil {
		return nil, fmt.Errorf("%s/%s: %w", group, name, err)
	}
	if len(ds.Shape) != 1 || uint64(len(out)) != ds.Shape[0] {
		return nil, fmt.Errorf("%w: %s/%s has %d strings, shape %v", ErrCorrupt, group, name, len(out), ds.Shape)
	}
	return out, nil
}

// Close releases the file and decoder.
func (r *Reader) Close() error {
	if r.dec != nil {
		r.dec.Close()
	}
	return r.f.Close()
}
