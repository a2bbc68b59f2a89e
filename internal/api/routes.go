// Package api provides HTTP handlers for the bGEF preview server.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/stereokit/gefkit/internal/cache"
	"github.com/stereokit/gefkit/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.TileService
	Cache       *cache.Manager
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/meta", metadataHandler(cfg.Service))
		r.Get("/genes", genesHandler(cfg.Service))
		r.Get("/genes/{gene}/stats", geneStatsHandler(cfg.Service, cfg.Cache))
	})

	r.Get("/tiles/density/{bin}/{z}/{x}/{y}.png", densityTileHandler(cfg.Service))
	r.Get("/tiles/expr/{bin}/{gene}/{z}/{x}/{y}.png", expressionTileHandler(cfg.Service))

	return r
}

// binParam resolves the bin size from the query or URL, defaulting to the
// container's first bin size.
func binParam(r *http.Request, svc *service.TileService) (uint32, bool) {
	raw := chi.URLParam(r, "bin")
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("bin"))
	}
	if raw == "" {
		return svc.Metadata().BinSizes[0], true
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint32(v), true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func metadataHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		md := svc.Metadata()

		zooms := make(map[string]int, len(md.BinSizes))
		for _, b := range md.BinSizes {
			if z, err := svc.RenderZoom(b); err == nil {
				zooms[strconv.FormatUint(uint64(b), 10)] = z
			}
		}

		writeJSON(w, map[string]interface{}{
			"metadata":     md,
			"render_zooms": zooms,
		})
	}
}

func genesHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binSize, ok := binParam(r, svc)
		if !ok {
			http.Error(w, "invalid bin size", http.StatusBadRequest)
			return
		}

		genes, err := svc.Genes(binSize)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		writeJSON(w, map[string]interface{}{
			"bin_size": binSize,
			"count":    len(genes),
			"genes":    genes,
		})
	}
}

func geneStatsHandler(svc *service.TileService, mgr *cache.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gene := chi.URLParam(r, "gene")
		binSize, ok := binParam(r, svc)
		if !ok {
			http.Error(w, "invalid bin size", http.StatusBadRequest)
			return
		}

		cacheKey := cache.GeneKey(binSize, gene)
		if data, ok := mgr.GetGene(cacheKey); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}

		stats, err := svc.GetGeneStats(binSize, gene)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		data, err := json.Marshal(stats)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		mgr.SetGene(cacheKey, data)

		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	}
}

func densityTileHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binSize, ok := binParam(r, svc)
		if !ok {
			http.Error(w, "invalid bin size", http.StatusBadRequest)
			return
		}
		z, _ := strconv.Atoi(chi.URLParam(r, "z"))
		x, _ := strconv.Atoi(chi.URLParam(r, "x"))
		y, _ := strconv.Atoi(chi.URLParam(r, "y"))
		colormap := r.URL.Query().Get("colormap")

		data, err := svc.GetDensityTile(binSize, z, x, y, colormap)
		if err != nil {
			data, _ = svc.GetEmptyTile()
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}

func expressionTileHandler(svc *service.TileService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		binSize, ok := binParam(r, svc)
		if !ok {
			http.Error(w, "invalid bin size", http.StatusBadRequest)
			return
		}
		z, _ := strconv.Atoi(chi.URLParam(r, "z"))
		x, _ := strconv.Atoi(chi.URLParam(r, "x"))
		y, _ := strconv.Atoi(chi.URLParam(r, "y"))
		gene := chi.URLParam(r, "gene")
		colormap := r.URL.Query().Get("colormap")

		data, err := svc.GetExpressionTile(binSize, gene, z, x, y, colormap)
		if err != nil {
			data, _ = svc.GetEmptyTile()
		}

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Write(data)
	}
}
