// Package web serves the ingestion and export API over HTTP.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/pricesync/internal/config"
	"github.com/JonMunkholm/pricesync/internal/core"
	mw "github.com/JonMunkholm/pricesync/internal/web/middleware"
)

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Server is the HTTP API server.
type Server struct {
	service *core.Service
	cfg     *config.Config
	health  HealthCheck
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server. health may be nil.
func NewServer(service *core.Service, cfg *config.Config, health HealthCheck) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		health:  health,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(mw.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(mw.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(securityHeaders)

	if s.cfg.Rate.Enabled {
		s.router.Use(mw.NewRateLimiter(s.cfg.Rate.RequestsPerMinute, s.cfg.Rate.Burst).Handler)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeys))

		// Short requests share the request timeout.
		r.Group(func(r chi.Router) {
			if s.cfg.Server.RequestTimeout > 0 {
				r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
			}

			r.Post("/hash", s.handleHash)

			r.Get("/suppliers", s.handleListSuppliers)
			r.Post("/suppliers", s.handleCreateSupplier)
			r.Get("/suppliers/{supplierID}", s.handleGetSupplier)
			r.Get("/suppliers/{supplierID}/brands", s.handleListBrands)
			r.Get("/suppliers/{supplierID}/items", s.handleSearchItems)

			r.Get("/suppliers/{supplierID}/mappings", s.handleListMappings)
			r.Post("/suppliers/{supplierID}/mappings", s.handleSaveMapping)
			r.Get("/suppliers/{supplierID}/mappings/match", s.handleMatchMappings)
			r.Delete("/mappings/{mappingID}", s.handleDeleteMapping)

			r.Get("/runs", s.handleListRuns)
			r.Get("/runs/{runID}", s.handleGetRun)
			r.Post("/runs/{runID}/cancel", s.handleCancelRun)
		})

		// File transfers get their own, tighter per-IP limit.
		r.Group(func(r chi.Router) {
			if s.cfg.Rate.Enabled && s.cfg.Rate.UploadLimit > 0 {
				r.Use(mw.NewRateLimiter(s.cfg.Rate.UploadLimit, s.cfg.Rate.UploadLimit).Handler)
			}

			r.Post("/uploads", s.handleUpload)
			r.Post("/uploads/preview", s.handlePreview)
			r.Post("/uploads/{uploadID}/runs", s.handleRestartRun)

			r.Get("/export/{supplierID}", s.handleExport)
			r.Post("/export/{supplierID}", s.handleExport)
		})

		r.Get("/runs/{runID}/progress", s.handleRunProgress)
		r.Post("/ingest", s.handleIngestChunk)
	})
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

type healthResponse struct {
	Status string                `json:"status"`
	Error  string                `json:"error,omitempty"`
	Runs   core.RunLimiterStatus `json:"runs"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Runs: s.service.RunLimiterStatus()}
	status := http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			resp.Status, resp.Error = "unavailable", "database unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSONStatus(w, status, resp)
}

// securityHeaders sets headers appropriate for a JSON and CSV API.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v with status 200.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
