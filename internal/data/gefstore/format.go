// Package gefstore implements the bGEF structured binary container: a single
// file holding named groups of typed datasets and attributes. Dataset payloads
// are zstd-compressed little-endian arrays written sequentially; a JSON index
// of every group, dataset shape and byte range sits at the tail, located by a
// fixed-size footer. Writes are transactional: the file is assembled under a
// temporary name and renamed into place only on a successful commit.
package gefstore

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic marks both ends of a bGEF container file.
const Magic = "bGEF"

// FormatVersion is the container layout version.
const FormatVersion uint32 = 1

// headerSize is magic + version.
const headerSize = len(Magic) + 4

// footerSize is index offset (u64) + index length (u32) + magic.
const footerSize = 8 + 4 + len(Magic)

var (
	// ErrBadMagic means the file is not a bGEF container.
	ErrBadMagic = errors.New("gefstore: bad magic")
	// ErrBadVersion means the container layout version is unsupported.
	ErrBadVersion = errors.New("gefstore: unsupported format version")
	// ErrNotFound means a requested group, dataset or attribute is absent.
	ErrNotFound = errors.New("gefstore: not found")
	// ErrCorrupt means an internal cross-reference (offset, length, shape)
	// disagrees with the stored bytes.
	ErrCorrupt = errors.New("gefstore: corrupt container")
)

// DType identifies the element type of a dataset.
type DType string

const (
	DTypeUint32 DType = "uint32"
	DTypeUint64 DType = "uint64"
	DTypeInt64  DType = "int64"
	DTypeString DType = "string"
)

// fixedSize returns the encoded element width for fixed-width dtypes.
func (d DType) fixedSize() (int, bool) {
	switch d {
	case DTypeUint32:
		return 4, true
	case DTypeUint64, DTypeInt64:
		return 8, true
	default:
		return 0, false
	}
}

// AttrKind tags the value held by an Attr.
type AttrKind string

const (
	AttrString   AttrKind = "string"
	AttrInt      AttrKind = "int"
	AttrUint     AttrKind = "uint"
	AttrUintList AttrKind = "uintList"
)

// Attr is one typed attribute value.
type Attr struct {
	Kind AttrKind `json:"kind"`
	Str  string   `json:"str,omitempty"`
	Int  int64    `json:"int,omitempty"`
	Uint uint64   `json:"uint,omitempty"`
	List []uint32 `json:"list,omitempty"`
}

// StringAttr wraps a string value.
func StringAttr(s string) Attr { return Attr{Kind: AttrString, Str: s} }

// IntAttr wraps a signed value.
func IntAttr(v int64) Attr { return Attr{Kind: AttrInt, Int: v} }

// UintAttr wraps an unsigned value.
func UintAttr(v uint64) Attr { return Attr{Kind: AttrUint, Uint: v} }

// UintListAttr wraps an ordered unsigned list, e.g. the bin-size list.
func UintListAttr(v []uint32) Attr { return Attr{Kind: AttrUintList, List: v} }

// datasetIndex records where one dataset lives and what it holds. RawLen is
// the uncompressed payload length; both lengths are verified on read.
type datasetIndex struct {
	DType   DType    `json:"dtype"`
	Shape   []uint64 `json:"shape"`
	Offset  uint64   `json:"offset"`
	CompLen uint64   `json:"comp_len"`
	RawLen  uint64   `json:"raw_len"`
}

// groupIndex holds one group's datasets and attributes.
type groupIndex struct {
	Attrs    map[string]Attr         `json:"attrs,omitempty"`
	Datasets map[string]datasetIndex `json:"datasets,omitempty"`
}

// fileIndex is the JSON tail of the container.
type fileIndex struct {
	Version uint32                 `json:"version"`
	Attrs   map[string]Attr        `json:"attrs,omitempty"`
	Groups  map[string]*groupIndex `json:"groups,omitempty"`
}

func (idx *fileIndex) group(name string, create bool) *groupIndex {
	if idx.Groups == nil {
		if !create {
			return nil
		}
		idx.Groups = make(map[string]*groupIndex)
	}
	g, ok := idx.Groups[name]
	if !ok {
		if !create {
			return nil
		}
		g = &groupIndex{}
		idx.Groups[name] = g
	}
	return g
}

// elements returns the flat element count of a shape.
func elements(shape []uint64) (uint64, error) {
	var n uint64 = 1
	for _, d := range shape {
		if d != 0 && n > (1<<62)/d {
			return 0, fmt.Errorf("%w: shape %v too large", ErrCorrupt, shape)
		}
		n *= d
	}
	return n, nil
}

func encodeUint32s(vals []uint32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return buf
}

func encodeUint64s(vals []uint64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], v)
	}
	return buf
}

func encodeInt64s(vals []int64) []byte {
	buf := make([]byte, 8*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

// encodeStrings lays out a string array as a u32 count followed by
// length-prefixed UTF-8 bytes.
func encodeStrings(vals []string) []byte {
	n := 4
	for _, s := range vals {
		n += 4 + len(s)
	}
	buf := make([]byte, 0, n)
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(len(vals)))
	buf = append(buf, tmp[:]...)
	for _, s := range vals {
		binary.LittleEndian.PutUint32(tmp[:], uint32(len(s)))
		buf = append(buf, tmp[:]...)
		buf = append(buf, s...)
	}
	return buf
}

func decodeUint32s(raw []byte) ([]uint32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("%w: uint32 payload length %d", ErrCorrupt, len(raw))
	}
	out := make([]uint32, len(raw)/4)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return out, nil
}

func decodeUint64s(raw []byte) ([]uint64, error) {
	if len(raw)%8 != 0 {
		return nil, fmt.Errorf("%w: uint64 payload length %d", ErrCorrupt, len(raw))
	}
	out := make([]uint64, len(raw)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(raw[i*8:])
	}
	return out, nil
}

func decodeInt64s(raw []byte) ([]int64, error) {
	u, err := decodeUint64s(raw)
	if err != nil {
		return nil, err
	}
	out := make([]int64, len(u))
	for i, v := range u {
		out[i] = int64(v)
	}
	return out, nil
}

func decodeStrings(raw []byte) ([]string, error) {
	if len(raw) < 4 {
		return nil, fmt.Errorf("%w: string payload too short", ErrCorrupt)
	}
	count := binary.LittleEndian.Uint32(raw)
	pos := 4
	out := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if pos+4 > len(raw) {
			return nil, fmt.Errorf("%w: truncated string header at %d", ErrCorrupt, pos)
		}
		n := int(binary.LittleEndian.Uint32(raw[pos:]))
		pos += 4
		if pos+n > len(raw) {
			return nil, fmt.Errorf("%w: truncated string body at %d", ErrCorrupt, pos)
		}
		out = append(out, string(raw[pos:pos+n]))
		pos += n
	}
	if pos != len(raw) {
		return nil, fmt.Errorf("%w: %d trailing bytes after string array", ErrCorrupt, len(raw)-pos)
	}
	return out, nil
}
