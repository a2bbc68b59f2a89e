// Package gem parses the GEM delimited-text format for spatial gene
// expression: leading #Key=Value comment lines, a geneID column header, then
// tab-separated records of geneID, x, y, MIDCount and an optional ExonCount.
package gem

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// ErrNoHeader is returned when the stream ends before a geneID column header
// line is found.
var ErrNoHeader = errors.New("gem: geneID column header not found")

// Header carries the metadata parsed from the leading comment lines and the
// column header. Absent comment keys keep their zero/default values; absence
// is not an error.
type Header struct {
	BinType  string // #BinType
	BinSize  uint32 // #BinSize, defaults to 1
	Omics    string // #Omics, defaults to Transcriptomics
	SampleID string // #Stereo-seqChip chip serial; "unknown" when absent
	OffsetX  int64  // #OffsetX
	OffsetY  int64  // #OffsetY
	HasExon  bool   // true when the column header carries ExonCount
	Line     int    // 1-based line number of the column header
}

// Record is one parsed expression row. Immutable once parsed.
type Record struct {
	Gene      string
	X, Y      int64
	MIDCount  uint32
	ExonCount uint32 // 0 when the input has no ExonCount column
}

// LineError is a recoverable per-line parse failure. The caller decides
// whether to skip and continue or abort.
type LineError struct {
	Line int    // 1-based
	Raw  string // offending line, without trailing newline
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("gem: line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Reader yields Records from a GEM stream in a single forward pass.
type Reader struct {
	sc      *bufio.Scanner
	closers []io.Closer
	header  Header
	line    int
}

// Open opens a GEM file, transparently decompressing when the path ends in
// .gz, and parses the header.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("gem: open %s: %w", path, err)
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gem: open gzip %s: %w", path, err)
		}
		r, err := NewReader(gz)
		if err != nil {
			gz.Close()
			f.Close()
			return nil, err
		}
		r.closers = append(r.closers, gz, f)
		return r, nil
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closers = append(r.closers, f)
	return r, nil
}

// NewReader wraps an already-open text stream and consumes lines up to and
// including the geneID column header.
func NewReader(src io.Reader) (*Reader, error) {
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	r := &Reader{sc: sc}
	if err := r.parseHeader(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) parseHeader() error {
	h := Header{BinSize: 1, Omics: "Transcriptomics", SampleID: "unknown"}
	for r.sc.Scan() {
		r.line++
		line := strings.TrimRight(r.sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "#"):
			parseCommentKV(&h, line)
		case strings.HasPrefix(line, "geneID"):
			cols := strings.Split(line, "\t")
			if err := validateColumns(cols); err != nil {
				return err
			}
			h.HasExon = len(cols) == 5
			h.Line = r.line
			r.header = h
			return nil
		case strings.TrimSpace(line) == "":
			// blank preamble line, tolerated
		default:
			return fmt.Errorf("gem: line %d: unexpected preamble %q", r.line, line)
		}
	}
	if err := r.sc.Err(); err != nil {
		return fmt.Errorf("gem: read header: %w", err)
	}
	return ErrNoHeader
}

func parseCommentKV(h *Header, line string) {
	body := strings.TrimPrefix(line, "#")
	key, val, ok := strings.Cut(body, "=")
	if !ok {
		return // free-form comment, ignored
	}
	val = strings.TrimSpace(val)
	switch key {
	case "BinType":
		h.BinType = val
	case "BinSize":
		if n, err := strconv.ParseUint(val, 10, 32); err == nil {
			h.BinSize = uint32(n)
		}
	case "Omics":
		h.Omics = val
	case "Stereo-seqChip":
		if val != "" {
			h.SampleID = val
		}
	case "OffsetX":
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			h.OffsetX = n
		}
	case "OffsetY":
		if n, err := strconv.ParseInt(val, 10, 64); err == nil {
			h.OffsetY = n
		}
	}
}

func validateColumns(cols []string) error {
	want := []string{"geneID", "x", "y", "MIDCount"}
	if len(cols) != 4 && len(cols) != 5 {
		return fmt.Errorf("gem: column header has %d columns, want 4 or 5", len(cols))
	}
	for i, name := range want {
		if cols[i] != name {
			return fmt.Errorf("gem: column %d is %q, want %q", i+1, cols[i], name)
		}
	}
	if len(cols) == 5 && cols[4] != "ExonCount" {
		return fmt.Errorf("gem: column 5 is %q, want %q", cols[4], "ExonCount")
	}
	return nil
}

// Header returns the parsed header. Valid after NewReader/Open succeeds.
func (r *Reader) Header() Header {
	return r.header
}

// Line returns the 1-based number of the last line consumed.
func (r *Reader) Line() int {
	return r.line
}

// Next returns the next record. It returns io.EOF at end of stream, a
// *LineError for a malformed row (the reader stays usable and the caller may
// skip), and any other error for an unrecoverable stream failure.
func (r *Reader) Next() (Record, error) {
	for r.sc.Scan() {
		r.line++
		raw := strings.TrimRight(r.sc.Text(), "\r")
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		rec, err := r.parseRow(raw)
		if err != nil {
			return Record{}, &LineError{Line: r.line, Raw: raw, Err: err}
		}
		return rec, nil
	}
	if err := r.sc.Err(); err != nil {
		return Record{}, fmt.Errorf("gem: read line %d: %w", r.line+1, err)
	}
	return Record{}, io.EOF
}

func (r *Reader) parseRow(raw string) (Record, error) {
	fields := strings.Split(raw, "\t")
	wantCols := 4
	if r.header.HasExon {
		wantCols = 5
	}
	if len(fields) != wantCols {
		return Record{}, fmt.Errorf("have %d columns, want %d", len(fields), wantCols)
	}
	if fields[0] == "" {
		return Record{}, errors.New("empty geneID")
	}

	x, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("x %q: not an integer", fields[1])
	}
	y, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("y %q: not an integer", fields[2])
	}
	mid, err := strconv.ParseUint(fields[3], 10, 32)
	if err != nil {
		return Record{}, fmt.Errorf("MIDCount %q: not an unsigned integer", fields[3])
	}

	rec := Record{Gene: fields[0], X: x, Y: y, MIDCount: uint32(mid)}
	if r.header.HasExon {
		exon, err := strconv.ParseUint(fields[4], 10, 32)
		if err != nil {
			return Record{}, fmt.Errorf("ExonCount %q: not an unsigned integer", fields[4])
		}
		rec.ExonCount = uint32(exon)
	}
	return rec, nil
}

// Close releases the underlying file handles, if any.
func (r *Reader) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
