package gefstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func tmpPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "out.bgef")
}

func TestWriteReadRoundTrip(t *testing.T) {
	path := tmpPath(t)

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	w.SetAttr("", "version", UintAttr(4))
	w.SetAttr("", "sampleId", StringAttr("Y00855N1"))
	w.SetAttr("", "binList", UintListAttr([]uint32{1, 20}))
	w.SetAttr("geneExp/bin1", "minX", IntAttr(-5))
	w.SetAttr("geneExp/bin1", "matrixLen", UintAttr(3))

	if err := w.AppendStrings("geneExp/bin1", "geneNames", []string{"geneA", "geneB"}); err != nil {
		t.Fatalf("AppendStrings: %v", err)
	}
	if err := w.AppendUint32s("geneExp/bin1", "geneIndex", []uint32{0, 0, 1}); err != nil {
		t.Fatalf("AppendUint32s: %v", err)
	}
	if err := w.AppendInt64s("geneExp/bin1", "x", []int64{-5, 1, 0}); err != nil {
		t.Fatalf("AppendInt64s: %v", err)
	}
	if err := w.AppendUint64s("geneExp/bin1", "midCount", []uint64{5, 3, 7}); err != nil {
		t.Fatalf("AppendUint64s: %v", err)
	}
	if err := w.AppendUint32Matrix("wholeExp/bin1", "midCount", 2, 3, []uint32{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatalf("AppendUint32Matrix: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if a, ok := r.Attr("", "sampleId"); !ok || a.Str != "Y00855N1" {
		t.Errorf("sampleId attr = %+v, %v", a, ok)
	}
	if a, ok := r.Attr("", "binList"); !ok || len(a.List) != 2 || a.List[1] != 20 {
		t.Errorf("binList attr = %+v, %v", a, ok)
	}
	if a, ok := r.Attr("geneExp/bin1", "minX"); !ok || a.Int != -5 {
		t.Errorf("minX attr = %+v, %v", a, ok)
	}

	groups := r.Groups()
	if len(groups) != 2 || groups[0] != "geneExp/bin1" || groups[1] != "wholeExp/bin1" {
		t.Errorf("Groups = %v", groups)
	}

	names, err := r.Strings("geneExp/bin1", "geneNames")
	if err != nil {
		t.Fatalf("Strings: %v", err)
	}
	if len(names) != 2 || names[0] != "geneA" {
		t.Errorf("geneNames = %v", names)
	}

	xs, err := r.Int64s("geneExp/bin1", "x")
	if err != nil {
		t.Fatalf("Int64s: %v", err)
	}
	if xs[0] != -5 || xs[2] != 0 {
		t.Errorf("x = %v", xs)
	}

	mids, err := r.Uint64s("geneExp/bin1", "midCount")
	if err != nil {
		t.Fatalf("Uint64s: %v", err)
	}
	if mids[2] != 7 {
		t.Errorf("midCount = %v", mids)
	}

	shape, dtype, err := r.Shape("wholeExp/bin1", "midCount")
	if err != nil {
		t.Fatalf("Shape: %v", err)
	}
	if dtype != DTypeUint32 || len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("wholeExp shape = %v %s", shape, dtype)
	}
	mat, err := r.Uint32s("wholeExp/bin1", "midCount")
	if err != nil {
		t.Fatalf("Uint32s: %v", err)
	}
	if len(mat) != 6 || mat[5] != 6 {
		t.Errorf("matrix = %v", mat)
	}
}

func TestAbortLeavesNoArtifact(t *testing.T) {
	path := tmpPath(t)

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendUint32s("g", "d", []uint32{1, 2, 3}); err != nil {
		t.Fatalf("AppendUint32s: %v", err)
	}
	w.Abort()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("target path exists after abort: %v", err)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}

func TestCommitAfterStagingErrorFails(t *testing.T) {
	path := tmpPath(t)

	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// Mismatched shape is a staging error and must poison the writer.
	if err := w.AppendUint32Matrix("g", "m", 2, 2, []uint32{1, 2, 3}); err == nil {
		t.Fatal("expected shape mismatch error")
	}
	if err := w.Commit(); err == nil {
		t.Fatal("expected Commit to fail after staging error")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("target path exists after failed commit")
	}
}

func TestDuplicateDatasetRejected(t *testing.T) {
	w, err := Create(tmpPath(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer w.Abort()

	if err := w.AppendUint32s("g", "d", []uint32{1}); err != nil {
		t.Fatalf("first append: %v", err)
	}
	if err := w.AppendUint32s("g", "d", []uint32{2}); err == nil {
		t.Fatal("expected duplicate dataset error")
	}
}

func TestOpenRejectsGarbage(t *testing.T) {
	path := tmpPath(t)
	if err := os.WriteFile(path, []byte("definitely not a container"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatal("expected error opening garbage file")
	}
}

func TestDTypeMismatch(t *testing.T) {
	path := tmpPath(t)
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.AppendUint32s("g", "d", []uint32{1, 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.Int64s("g", "d"); err == nil {
		t.Fatal("expected dtype mismatch error")
	}
	if _, err := r.Uint32s("g", "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}
