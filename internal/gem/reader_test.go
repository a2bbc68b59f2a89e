package gem

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

const sample = "#BinType=Bin\n" +
	"#BinSize=1\n" +
	"#Omics=Transcriptomics\n" +
	"#Stereo-seqChip=Y00855N1\n" +
	"#OffsetX=100\n" +
	"#OffsetY=-50\n" +
	"geneID\tx\ty\tMIDCount\tExonCount\n" +
	"geneA\t0\t0\t5\t2\n" +
	"geneA\t1\t0\t3\t1\n" +
	"geneB\t0\t1\t7\t0\n"

func drain(t *testing.T, r *Reader) []Record {
	t.Helper()
	var out []Record
	for {
		rec, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		out = append(out, rec)
	}
}

func TestReader_HeaderAndRecords(t *testing.T) {
	r, err := NewReader(strings.NewReader(sample))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	h := r.Header()
	if h.SampleID != "Y00855N1" {
		t.Errorf("SampleID = %q, want Y00855N1", h.SampleID)
	}
	if h.OffsetX != 100 || h.OffsetY != -50 {
		t.Errorf("offsets = (%d, %d), want (100, -50)", h.OffsetX, h.OffsetY)
	}
	if !h.HasExon {
		t.Error("HasExon = false, want true")
	}
	if h.Line != 7 {
		t.Errorf("header line = %d, want 7", h.Line)
	}

	recs := drain(t, r)
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	want := Record{Gene: "geneA", X: 0, Y: 0, MIDCount: 5, ExonCount: 2}
	if recs[0] != want {
		t.Errorf("first record = %+v, want %+v", recs[0], want)
	}
	if recs[2].Gene != "geneB" || recs[2].MIDCount != 7 {
		t.Errorf("third record = %+v", recs[2])
	}
}

func TestReader_NoExonColumn(t *testing.T) {
	in := "geneID\tx\ty\tMIDCount\ngeneA\t3\t4\t2\n"
	r, err := NewReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if r.Header().HasExon {
		t.Error("HasExon = true for 4-column input")
	}
	if r.Header().SampleID != "unknown" {
		t.Errorf("SampleID = %q, want unknown", r.Header().SampleID)
	}

	recs := drain(t, r)
	if len(recs) != 1 || recs[0].ExonCount != 0 {
		t.Fatalf("records = %+v, want one record with ExonCount 0", recs)
	}
}

func TestReader_MalformedLineIsRecoverable(t *testing.T) {
	in := "geneID\tx\ty\tMIDCount\n" +
		"geneA\t1\t2\t3\n" +
		"geneB\tnope\t2\t3\n" +
		"geneC\t5\t6\t7\n"
	r, err := NewReader(strings.NewReader(in))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}

	if _, err := r.Next(); err != nil {
		t.Fatalf("first record: %v", err)
	}

	_, err = r.Next()
	var le *LineError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LineError, got %v", err)
	}
	if le.Line != 3 {
		t.Errorf("LineError.Line = %d, want 3", le.Line)
	}
	if !strings.HasPrefix(le.Raw, "geneB") {
		t.Errorf("LineError.Raw = %q", le.Raw)
	}

	// The reader must survive a recoverable error.
	rec, err := r.Next()
	if err != nil {
		t.Fatalf("record after error: %v", err)
	}
	if rec.Gene != "geneC" {
		t.Errorf("resumed at %q, want geneC", rec.Gene)
	}
}

func TestReader_WrongHeaderColumns(t *testing.T) {
	if _, err := NewReader(strings.NewReader("geneID\tcol\tfoo\tbar\n")); err == nil {
		t.Fatal("expected error for unexpected column names")
	}
	if _, err := NewReader(strings.NewReader("#only=comments\n")); !errors.Is(err, ErrNoHeader) {
		t.Fatalf("expected ErrNoHeader, got %v", err)
	}
}

func TestOpen_Gzip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.gem.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(sample)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	recs := drain(t, r)
	if len(recs) != 3 {
		t.Fatalf("got %d records from gzip input, want 3", len(recs))
	}
}
