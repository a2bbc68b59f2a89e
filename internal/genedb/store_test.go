package genedb

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleGTF = `#!genome-build GRCm39
1	ensembl	gene	1	100	.	+	.	gene_id "ENSMUSG00000000001"; gene_name "Gnai3";
1	ensembl	transcript	1	100	.	+	.	gene_id "ENSMUSG00000000001"; gene_name "Gnai3";
2	ensembl	gene	5	50	.	-	.	gene_id "ENSMUSG00000000028"; gene_name "Cdc45";
2	ensembl	gene	60	90	.	-	.	gene_id "ENSMUSG99999999999"; gene_name "cdc45";
3	ensembl	gene	1	10	.	+	.	gene_id "ENSMUSG00000000037"; other_field "x";
`

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "genes.sqlite"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeGTF(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anno.gtf")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestBuildFromGTF(t *testing.T) {
	s := openStore(t)

	n, err := s.BuildFromGTF(writeGTF(t, sampleGTF))
	if err != nil {
		t.Fatalf("BuildFromGTF: %v", err)
	}
	// Gnai3 + Cdc45; the transcript row, the case-duplicate and the row
	// without gene_name are ignored.
	if n != 2 {
		t.Fatalf("stored %d symbols, want 2", n)
	}

	id, ok, err := s.Lookup("Gnai3")
	if err != nil || !ok {
		t.Fatalf("Lookup(Gnai3): %q, %v, %v", id, ok, err)
	}
	if id != "ENSMUSG00000000001" {
		t.Errorf("Gnai3 = %q", id)
	}

	// Case-insensitive, first mapping wins.
	id, ok, err = s.Lookup("CDC45")
	if err != nil || !ok {
		t.Fatalf("Lookup(CDC45): %v, %v", ok, err)
	}
	if id != "ENSMUSG00000000028" {
		t.Errorf("CDC45 = %q, want first-seen mapping", id)
	}

	if _, ok, _ := s.Lookup("NoSuchGene"); ok {
		t.Error("unexpected hit for unknown symbol")
	}
}

func TestResolveAll(t *testing.T) {
	s := openStore(t)
	if _, err := s.BuildFromGTF(writeGTF(t, sampleGTF)); err != nil {
		t.Fatalf("BuildFromGTF: %v", err)
	}

	ids, err := s.ResolveAll([]string{"gnai3", "unknown", "Cdc45"})
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	want := []string{"ENSMUSG00000000001", "", "ENSMUSG00000000028"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestBuildReplacesPreviousTable(t *testing.T) {
	s := openStore(t)
	if _, err := s.BuildFromGTF(writeGTF(t, sampleGTF)); err != nil {
		t.Fatalf("first build: %v", err)
	}

	smaller := `1	ensembl	gene	1	9	.	+	.	gene_id "ENSMUSG00000000300"; gene_name "Abc1";
`
	n, err := s.BuildFromGTF(writeGTF(t, smaller))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if n != 1 {
		t.Fatalf("rebuild stored %d symbols, want 1", n)
	}
	if _, ok, _ := s.Lookup("Gnai3"); ok {
		t.Error("stale symbol survived rebuild")
	}
	if count, err := s.Len(); err != nil || count != 1 {
		t.Errorf("Len = %d, %v", count, err)
	}
}
