// Package server exposes the callback HTTP endpoint the backend service
// calls into after a state change: a bounded worker pool fronting the
// dispatch service so a burst of callbacks can never pile up unbounded
// concurrent work against the backend (spec.md §4.6).
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/semaphore"

	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/cache"
	"github.com/emergency-platform/dispatch-engine/pkg/dispatch/dispatcher"
)

// Config configures the callback server.
type Config struct {
	Addr                string
	MaxConcurrentDispatch int64
	DispatchTimeout     time.Duration
}

// DefaultConfig returns sane defaults: a handful of concurrent dispatches
// and a timeout generous enough for a slow backend call chain.
func DefaultConfig() Config {
	return Config{
		Addr:                   ":8081",
		MaxConcurrentDispatch:  8,
		DispatchTimeout:        10 * time.Second,
	}
}

// Server is the HTTP callback surface.
type Server struct {
	httpServer *http.Server
	service    dispatcher.Service
	cache      *cache.Cache
	sem        *semaphore.Weighted
	timeout    time.Duration
	log        logr.Logger
}

// New builds a Server wired to the given dispatch service and static-data
// cache (the cache backs both /health readiness and POST /refresh).
func New(cfg Config, service dispatcher.Service, c *cache.Cache, log logr.Logger) *Server {
	s := &Server{
		service: service,
		cache:   c,
		sem:     semaphore.NewWeighted(cfg.MaxConcurrentDispatch),
		timeout: cfg.DispatchTimeout,
		log:     log.WithName("callback-server"),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelhttp.NewMiddleware("dispatch-engine"))
	router.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))

	router.Get("/health", s.handleHealth)
	router.Post("/refresh", s.handleRefresh)
	router.Post("/dispatch/{interventionId}", s.handleDispatch)

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}
	return s
}

// StartAsync starts the server in a background goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error(err, "callback server stopped unexpectedly")
		}
	}()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.cache.IsInitialized() {
		status = "initializing"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Refresh(r.Context()); err != nil {
		s.log.Error(err, "manual cache refresh failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "refresh failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "refreshed"})
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	interventionID := chi.URLParam(r, "interventionId")
	if interventionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "interventionId is required"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.log.V(1).Info("dispatch worker pool saturated, rejecting callback", "intervention_id", interventionID)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": "dispatch engine busy, retry later"})
		return
	}
	defer s.sem.Release(1)

	committed, err := s.service.DispatchForIntervention(ctx, interventionID)
	if err != nil {
		s.log.Error(err, "dispatch for intervention failed", "intervention_id", interventionID)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "dispatch failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "dispatched",
		"count":  len(committed),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
