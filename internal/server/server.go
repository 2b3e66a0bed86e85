// Package server exposes the AOI engine as JSON tools over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/aoi"
	"github.com/sells-group/aoi-engine/internal/evaluate"
	"github.com/sells-group/aoi-engine/internal/resolver"
)

// Deps are the components the tools run against.
type Deps struct {
	Resolver    *resolver.Resolver
	Normalizer  *aoi.Normalizer
	Evaluator   *evaluate.Evaluator
	Progressive *evaluate.Progressive
	// BatchChunkSize bounds how many evaluate_batch requests run at once.
	BatchChunkSize int
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
}

// Tool handles one named tool call.
type Tool func(ctx context.Context, args json.RawMessage) (any, error)

// Server routes health, metrics and tool calls.
type Server struct {
	httpServer *http.Server
	deps       Deps
	tools      map[string]Tool
}

// New creates a server listening on addr.
func New(addr string, deps Deps) *Server {
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if deps.BatchChunkSize <= 0 {
		deps.BatchChunkSize = evaluate.DefaultChunkSize
	}

	s := &Server{deps: deps}
	s.tools = map[string]Tool{
		"resolve_place":        s.resolvePlace,
		"resolve_places":       s.resolvePlaces,
		"normalize_aoi":        s.normalizeAOI,
		"aoi_metrics":          s.aoiMetrics,
		"evaluate":             s.evaluate,
		"evaluate_batch":       s.evaluateBatch,
		"summarize_collection": s.summarizeCollection,
		"cache_stats":          s.cacheStats,
		"cache_clear":          s.cacheClear,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/tools", s.handleListTools)
	r.Post("/tools/{name}", s.handleTool)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	zap.L().Info("starting server", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTools(w http.ResponseWriter, _ *http.Request) {
	names := make([]string, 0, len(s.tools))
	for name := range s.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string][]string{"tools": names})
}

func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	tool, ok := s.tools[name]
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "unknown tool " + name, Kind: kindUnknownTool})
		return
	}

	var args json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, name, badArgs("invalid request body"))
		return
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage("{}")
	}

	start := time.Now()
	result, err := tool(r.Context(), args)
	if err != nil {
		writeError(w, name, err)
		return
	}
	zap.L().Debug("server: tool call", zap.String("tool", name), zap.Duration("elapsed", time.Since(start)))
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client went away
}
