// Package main builds the gene symbol to gene ID lookup database.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/stereokit/gefkit/internal/genedb"
)

func main() {
	gtf := flag.String("gtf", "", "Path to the annotation GTF (.gtf or .gtf.gz)")
	db := flag.String("db", "gene_ids.sqlite", "Path to the output SQLite database")
	flag.Parse()

	if *gtf == "" {
		log.Fatal("-gtf is required")
	}

	start := time.Now()

	store, err := genedb.Open(*db)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer store.Close()

	n, err := store.BuildFromGTF(*gtf)
	if err != nil {
		log.Fatalf("Failed to build gene database: %v", err)
	}

	log.Printf("Indexed %d gene symbols into %s in %s", n, *db, time.Since(start).Round(time.Millisecond))
}
