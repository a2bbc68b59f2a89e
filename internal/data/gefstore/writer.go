package gefstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
)

// Writer assembles a container file. All datasets and attributes are staged
// through it and become visible at the target path only when Commit succeeds;
// a failed or aborted write leaves nothing at the target path.
type Writer struct {
	path   string // final destination
	tmp    *os.File
	enc    *zstd.Encoder
	idx    fileIndex
	offset uint64
	err    error // sticky
	done   bool
}

// Create starts a new container destined for path. The temporary file is
// created in the same directory so the final rename stays on one filesystem.
func Create(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("gefstore: create temp for %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("gefstore: zstd encoder: %w", err)
	}

	w := &Writer{
		path: path,
		tmp:  tmp,
		enc:  enc,
		idx:  fileIndex{Version: FormatVersion},
	}

	var hdr [headerSize]byte
	copy(hdr[:], Magic)
	binary.LittleEndian.PutUint32(hdr[len(Magic):], FormatVersion)
	if _, err := tmp.Write(hdr[:]); err != nil {
		w.Abort()
		return nil, fmt.Errorf("gefstore: write header: %w", err)
	}
	w.offset = uint64(headerSize)
	return w, nil
}

// SetAttr stages an attribute on a group; group "" addresses the container
// root. Setting the same key twice overwrites.
func (w *Writer) SetAttr(group, key string, a Attr) {
	if w.err != nil || w.done {
		return
	}
	if group == "" {
		if w.idx.Attrs == nil {
			w.idx.Attrs = make(map[string]Attr)
		}
		w.idx.Attrs[key] = a
		return
	}
	g := w.idx.group(group, true)
	if g.Attrs == nil {
		g.Attrs = make(map[string]Attr)
	}
	g.Attrs[key] = a
}

func (w *Writer) appendDataset(group, name string, dtype DType, shape []uint64, raw []byte) error {
	if w.err != nil {
		return w.err
	}
	if w.done {
		return fmt.Errorf("gefstore: write after commit")
	}
	g := w.idx.group(group, true)
	if g.Datasets == nil {
		g.Datasets = make(map[string]datasetIndex)
	}
	if _, exists := g.Datasets[name]; exists {
		w.err = fmt.Errorf("gefstore: dataset %s/%s already written", group, name)
		return w.err
	}

	comp := w.enc.EncodeAll(raw, nil)
	if _, err := w.tmp.Write(comp); err != nil {
		w.err = fmt.Errorf("gefstore: write dataset %s/%s: %w", group, name, err)
		return w.err
	}
	g.Datasets[name] = datasetIndex{
		DType:   dtype,
		Shape:   shape,
		Offset:  w.offset,
		CompLen: uint64(len(comp)),
		RawLen:  uint64(len(raw)),
	}
	w.offset += uint64(len(comp))
	return nil
}

// AppendUint32s writes a 1-D uint32 dataset.
func (w *Writer) AppendUint32s(group, name string, vals []uint32) error {
	return w.appendDataset(group, name, DTypeUint32, []uint64{uint64(len(vals))}, encodeUint32s(vals))
}

// AppendUint64s writes a 1-D uint64 dataset.
func (w *Writer) AppendUint64s(group, name string, vals []uint64) error {
	return w.appendDataset(group, name, DTypeUint64, []uint64{uint64(len(vals))}, encodeUint64s(vals))
}

// AppendInt64s writes a 1-D int64 dataset.
func (w *Writer) AppendInt64s(group, name string, vals []int64) error {
	return w.appendDataset(group, name, DTypeInt64, []uint64{uint64(len(vals))}, encodeInt64s(vals))
}

// AppendStrings writes a 1-D string dataset.
func (w *Writer) AppendStrings(group, name string, vals []string) error {
	return w.appendDataset(group, name, DTypeString, []uint64{uint64(len(vals))}, encodeStrings(vals))
}

// AppendUint32Matrix writes a row-major uint32 matrix with shape [rows, cols].
func (w *Writer) AppendUint32Matrix(group, name string, rows, cols uint64, vals []uint32) error {
	if uint64(len(vals)) != rows*cols {
		err := fmt.Errorf("gefstore: matrix %s/%s has %d values, shape [%d, %d] needs %d",
			group, name, len(vals), rows, cols, rows*cols)
		if w.err == nil {
			w.err = err
		}
		return err
	}
	return w.appendDataset(group, name, DTypeUint32, []uint64{rows, cols}, encodeUint32s(vals))
}

// Err returns the first staging error, if any.
func (w *Writer) Err() error {
	return w.err
}

// Commit writes the index and footer, syncs, and renames the temporary file
// onto the target path. After Commit the writer is spent.
func (w *Writer) Commit() error {
	if w.err != nil {
		w.Abort()
		return w.err
	}
	if w.done {
		return fmt.Errorf("gefstore: already committed")
	}

	idxBytes, err := json.Marshal(&w.idx)
	if err != nil {
		w.Abort()
		return fmt.Errorf("gefstore: marshal index: %w", err)
	}
	if _, err := w.tmp.Write(idxBytes); err != nil {
		w.Abort()
		return fmt.Errorf("gefstore: write index: %w", err)
	}

	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:], w.offset)
	binary.LittleEndian.PutUint32(footer[8:], uint32(len(idxBytes)))
	copy(footer[12:], Magic)
	if _, err := w.tmp.Write(footer[:]); err != nil {
		w.Abort()
		return fmt.Errorf("gefstore: write footer: %w", err)
	}

	if err := w.tmp.Sync(); err != nil {
		w.Abort()
		return fmt.Errorf("gefstore: sync: %w", err)
	}
	tmpName := w.tmp.Name()
	if err := w.tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("gefstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, w.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("gefstore: finalize %s: %w", w.path, err)
	}
	w.done = true
	w.enc.Close()
	return nil
}

// Abort discards the in-progress container. Safe to call after Commit, where
// it does nothing.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	name := w.tmp.Name()
	w.tmp.Close()
	os.Remove(name)
	w.enc.Close()
}
