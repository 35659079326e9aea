// Package httpapi exposes pkg/readapi and pkg/progress over HTTP: a chi-routed JSON surface for
// position lookup, neighborhoods, stats and search, plus a Prometheus scrape endpoint.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chesstree/chesstree/pkg/progress"
	"github.com/chesstree/chesstree/pkg/readapi"
)

// Server wires the read API and progress tracker into a chi router.
type Server struct {
	api      *readapi.API
	progress *progress.Tracker
	log      *zap.Logger
	router   chi.Router
}

// New builds a Server. log may be nil, in which case zap.NewNop() is used.
func New(api *readapi.API, prog *progress.Tracker, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{api: api, progress: prog, log: log}
	s.router = s.buildRouter()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/api/position/{hash}", s.handleGetPosition)
	r.Get("/api/position", s.handleGetRootPosition)
	r.Get("/api/neighbors/{hash}", s.handleGetNeighbors)
	r.Get("/api/stats", s.handleGetStats)
	r.Get("/api/metrics", s.handleGetMetricsJSON)
	r.Get("/api/search", s.handleSearch)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	hash, err := strconv.ParseUint(chi.URLParam(r, "hash"), 10, 64)
	if err != nil {
		http.Error(w, "invalid hash", http.StatusBadRequest)
		return
	}

	parentLimit := parseParentLimit(r)
	node, err := s.api.GetPosition(r.Context(), &hash, parentLimit)
	if err != nil {
		s.log.Warn("position lookup failed", zap.Uint64("hash", hash), zap.Error(err))
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, node)
}

func (s *Server) handleGetRootPosition(w http.ResponseWriter, r *http.Request) {
	node, err := s.api.GetPosition(r.Context(), nil, parseParentLimit(r))
	if err != nil {
		s.log.Warn("root position lookup failed", zap.Error(err))
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, node)
}

func (s *Server) handleGetNeighbors(w http.ResponseWriter, r *http.Request) {
	hash, err := strconv.ParseUint(chi.URLParam(r, "hash"), 10, 64)
	if err != nil {
		http.Error(w, "invalid hash", http.StatusBadRequest)
		return
	}

	neighbors, err := s.api.GetNeighbors(r.Context(), hash, parseParentLimit(r))
	if err != nil {
		s.log.Warn("neighbors lookup failed", zap.Uint64("hash", hash), zap.Error(err))
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, neighbors)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.api.GetStats(r.Context())
	if err != nil {
		s.log.Error("stats query failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

func (s *Server) handleGetMetricsJSON(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.progress.Snapshot())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		http.Error(w, "missing q parameter", http.StatusBadRequest)
		return
	}

	results, err := s.api.Search(r.Context(), q)
	if err != nil {
		s.log.Error("search failed", zap.String("query", q), zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, results)
}

func parseParentLimit(r *http.Request) int {
	v := r.URL.Query().Get("parent_limit")
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
