// Package api exposes the HTTP interface for the monitor.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/politeping/politeping/internal/checker"
	"github.com/politeping/politeping/internal/config"
	"github.com/politeping/politeping/internal/keyword"
	"github.com/politeping/politeping/internal/metrics"
	"github.com/politeping/politeping/internal/monitor"
)

// Server wires HTTP handlers to the checker.
type Server struct {
	router  chi.Router
	checker *checker.Checker
	cfgPath string
	logger  *zap.Logger

	mu        sync.RWMutex
	endpoints []monitor.Endpoint
}

// NewServer constructs a Server with middleware and routes.
func NewServer(chk *checker.Checker, endpoints []monitor.Endpoint, cfgPath string, logger *zap.Logger) *Server {
	s := &Server{
		checker:   chk,
		cfgPath:   cfgPath,
		logger:    logger,
		endpoints: endpoints,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/status/{name}", s.getEndpointStatus)
		r.Post("/reload", s.reload)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// getStatus runs one check cycle over the configured endpoints and
// returns the per-endpoint records. Rate limiting is applied inside
// the checker, so hammering this route yields SKIPPED records rather
// than extra traffic to the monitored hosts.
func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	endpoints := s.endpoints
	s.mu.RUnlock()

	results := s.checker.RunCycle(r.Context(), endpoints)
	writeJSON(w, http.StatusOK, statusResponse{
		Timestamp: time.Now().UTC(),
		Results:   results,
	})
}

func (s *Server) getEndpointStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	s.mu.RLock()
	var target *monitor.Endpoint
	for _, ep := range s.endpoints {
		if ep.Name == name {
			target = &ep
			break
		}
	}
	s.mu.RUnlock()

	if target == nil {
		writeError(w, http.StatusNotFound, "unknown endpoint: "+name)
		return
	}
	results := s.checker.RunCycle(r.Context(), []monitor.Endpoint{*target})
	writeJSON(w, http.StatusOK, results[0])
}

// reload re-reads the config file and swaps in the new keyword
// matcher and endpoint list. Tunables that feed long-lived components
// (timeouts, permit pool sizes) require a restart.
func (s *Server) reload(w http.ResponseWriter, _ *http.Request) {
	cfg, err := config.Load(s.cfgPath)
	if err != nil {
		s.logger.Error("config reload failed", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	matcher := keyword.Compile(cfg.Keywords.RuleSet, cfg.Keywords.Settings.CaseInsensitive, s.logger)
	s.checker.SetMatcher(matcher)

	s.mu.Lock()
	s.endpoints = cfg.Endpoints
	s.mu.Unlock()

	s.logger.Info("configuration reloaded", zap.Int("endpoints", len(cfg.Endpoints)))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "reloaded",
		"endpoints": len(cfg.Endpoints),
	})
}

type statusResponse struct {
	Timestamp time.Time             `json:"timestamp"`
	Results   []monitor.CheckResult `json:"results"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Headers are already out; an encode failure has nowhere to go.
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
