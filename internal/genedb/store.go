// Package genedb provides a persistent gene annotation store mapping gene
// symbols to stable Ensembl gene IDs, backed by SQLite. The table is built
// from an Ensembl GTF and queried case-insensitively during conversion.
package genedb

import (
	"bufio"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	_ "modernc.org/sqlite"
)

// GTF attribute fields: gene_id "ENSMUSG..."; gene_name "P2ry12";
var (
	reGeneID   = regexp.MustCompile(`gene_id\s+"([^"]+)"`)
	reGeneName = regexp.MustCompile(`gene_name\s+"([^"]+)"`)
)

// Store is a SQLite-backed symbol -> gene ID table.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (creating if needed) the annotation database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("genedb: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("genedb: open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("genedb: enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("genedb: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS genes (
		symbol_lc TEXT PRIMARY KEY,
		gene_id TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// BuildFromGTF rebuilds the table from an Ensembl GTF (optionally gzipped),
// keeping gene-level features only. On symbol collisions the first mapping
// wins, so a primary name is not overwritten by a later alias. Returns the
// number of symbols stored.
func (s *Store) BuildFromGTF(gtfPath string) (int, error) {
	f, err := os.Open(gtfPath)
	if err != nil {
		return 0, fmt.Errorf("genedb: open %s: %w", gtfPath, err)
	}
	defer f.Close()

	var src io.Reader = f
	if strings.HasSuffix(gtfPath, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("genedb: open gzip %s: %w", gtfPath, err)
		}
		defer gz.Close()
		src = gz
	}

	bySymbol := make(map[string]string)
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// GTF columns: chr, source, feature, start, end, score, strand,
		// frame, attributes.
		fields := strings.SplitN(line, "\t", 9)
		if len(fields) < 9 || fields[2] != "gene" {
			continue
		}
		attrs := fields[8]
		idMatch := reGeneID.FindStringSubmatch(attrs)
		nameMatch := reGeneName.FindStringSubmatch(attrs)
		if idMatch == nil || nameMatch == nil {
			continue
		}
		key := strings.ToLower(nameMatch[1])
		if _, seen := bySymbol[key]; !seen {
			bySymbol[key] = idMatch[1]
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("genedb: read %s: %w", gtfPath, err)
	}

	if err := s.replaceAll(bySymbol); err != nil {
		return 0, err
	}
	return len(bySymbol), nil
}

func (s *Store) replaceAll(bySymbol map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM genes"); err != nil {
		return err
	}
	stmt, err := tx.Prepare("INSERT INTO genes (symbol_lc, gene_id) VALUES (?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for symbol, id := range bySymbol {
		if _, err := stmt.Exec(symbol, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Lookup resolves one symbol, case-insensitively. The second return value
// reports whether the symbol is known.
func (s *Store) Lookup(symbol string) (string, bool, error) {
	var id string
	err := s.db.QueryRow(
		"SELECT gene_id FROM genes WHERE symbol_lc = ?",
		strings.ToLower(symbol),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// ResolveAll maps a symbol list to gene IDs, leaving unknown symbols as
// empty strings. Used to fill the container's gene ID table.
func (s *Store) ResolveAll(symbols []string) ([]string, error) {
	out := make([]string, len(symbols))
	for i, sym := range symbols {
		id, ok, err := s.Lookup(sym)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = id
		}
	}
	return out, nil
}

// Len returns the number of stored symbols.
func (s *Store) Len() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM genes").Scan(&n)
	return n, err
}
