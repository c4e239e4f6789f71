// Package api provides HTTP handlers for the expression server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/protatlas/server/internal/atlas"
	"github.com/protatlas/server/internal/cache"
	"github.com/protatlas/server/internal/render"
	"github.com/protatlas/server/internal/service"
	"github.com/protatlas/server/pkg/colormap"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
	// Cache is reported by the health endpoint when set.
	Cache *cache.Manager
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
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
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
	if cfg.Cache != nil {
		r.Get("/health/cache", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, cfg.Cache.Stats())
		})
	}

	// Global endpoints (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))
	r.Get("/api/gene_lookup", geneLookupHandler(cfg.Registry))
	r.Get("/api/colormaps", colormapsHandler)

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Route("/api", func(r chi.Router) {
			r.Get("/genes", genesHandler)
			r.Get("/genes/{gene}", geneInfoHandler)
			r.Get("/tissues", tissuesHandler)
			r.Get("/groups", groupsHandler)
			r.Get("/stats", statsHandler)
			r.Get("/matrix", matrixHandler)
			r.Post("/matrix", matrixHandler)
			r.Get("/matrix.csv", matrixCSVHandler)
			r.Get("/charts/{kind}.png", chartHandler)
			// chi treats '.' as a param delimiter in `{kind}.png`; accept
			// the bare segment too and strip the extension in the handler.
			r.Get("/charts/{kind}", chartHandler)
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects its service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.ExpressionService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.ExpressionService); ok {
		return svc
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeQueryError maps query errors to HTTP status codes.
func writeQueryError(w http.ResponseWriter, err error) {
	var (
		unknown *atlas.UnknownGeneError
		tooMany *atlas.TooManyGenesError
	)
	switch {
	case errors.As(err, &unknown):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &tooMany), errors.Is(err, atlas.ErrNoGenes):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		})
	}
}

// geneLookupHandler resolves a gene to the list of datasets containing it.
func geneLookupHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gene := strings.TrimSpace(r.URL.Query().Get("gene"))
		if gene == "" {
			http.Error(w, "missing required query param: gene", http.StatusBadRequest)
			return
		}
		writeJSON(w, map[string]interface{}{
			"gene":     gene,
			"datasets": registry.DatasetsWithGene(gene),
		})
	}
}

func colormapsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, colormap.Names())
}

func genesHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	query := r.URL.Query()
	limit := 50
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	genes := svc.SearchGenes(query.Get("q"), limit)
	writeJSON(w, map[string]interface{}{
		"genes": genes,
		"total": len(genes),
	})
}

func geneInfoHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	gene, _ := url.PathUnescape(chi.URLParam(r, "gene"))
	profile, err := svc.Gene(gene)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeJSON(w, profile)
}

func tissuesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getDatasetService(r).Tissues())
}

func groupsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getDatasetService(r).Groups())
}

func statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, getDatasetService(r).Stats())
}

func matrixHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseMatrixRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := getDatasetService(r).MatrixJSON(q)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func matrixCSVHandler(w http.ResponseWriter, r *http.Request) {
	q, err := parseMatrixQuery(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	svc := getDatasetService(r)
	data, err := svc.MatrixCSV(q)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+svc.ID()+`_expression.csv"`)
	w.Write(data)
}

func chartHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	kind, err := render.ParseKind(strings.TrimSuffix(chi.URLParam(r, "kind"), ".png"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mq, err := parseMatrixQuery(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cmap := strings.TrimSpace(query.Get("colormap"))
	if cmap != "" {
		if _, err := colormap.Get(cmap); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	data, err := getDatasetService(r).Chart(service.ChartQuery{
		MatrixQuery: mq,
		Kind:        kind,
		Colormap:    cmap,
	})
	if err != nil {
		writeQueryError(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
