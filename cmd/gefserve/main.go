// Package main is the entry point for the bGEF preview server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stereokit/gefkit/internal/api"
	"github.com/stereokit/gefkit/internal/cache"
	"github.com/stereokit/gefkit/internal/config"
	"github.com/stereokit/gefkit/internal/data/gefstore"
	"github.com/stereokit/gefkit/internal/render"
	"github.com/stereokit/gefkit/internal/service"
)

func main() {
	gefPath := flag.String("gef", "", "Path to the bGEF container to serve")
	configPath := flag.String("config", "config/gefkit.yaml", "Path to configuration file")
	flag.Parse()

	if *gefPath == "" {
		log.Fatal("-gef is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting gefserve on port %d", cfg.Server.Port)

	store, err := gefstore.Open(*gefPath)
	if err != nil {
		log.Fatalf("Failed to open container: %v", err)
	}
	defer store.Close()

	cacheManager, err := cache.NewManager(cache.Config{
		TileCacheSizeMB: cfg.Cache.TileSizeMB,
		TileTTL:         time.Duration(cfg.Cache.TileTTLMinutes) * time.Minute,
		GeneCacheSize:   cfg.Cache.GeneCacheSize,
	})
	if err != nil {
		log.Fatalf("Failed to initialize cache: %v", err)
	}
	defer cacheManager.Close()

	tileRenderer := render.NewTileRenderer(render.Config{
		TileSize:        cfg.Render.TileSize,
		DefaultColormap: cfg.Render.DefaultColormap,
	})

	tileService, err := service.NewTileService(service.TileServiceConfig{
		Store:    store,
		Cache:    cacheManager,
		Renderer: tileRenderer,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tile service: %v", err)
	}

	md := tileService.Metadata()
	log.Printf("Serving %s: sample=%s omics=%s bins=%v", *gefPath, md.SampleID, md.Omics, md.BinSizes)

	router := api.NewRouter(api.RouterConfig{
		Service:     tileService,
		Cache:       cacheManager,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server listening on http://localhost:%d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
