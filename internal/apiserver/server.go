// Package apiserver exposes the optimization, pricing, and arbitrage
// surfaces over HTTP.
package apiserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cloudarb/cloudarb/internal/aggregator"
	"github.com/cloudarb/cloudarb/internal/arbitrage"
	"github.com/cloudarb/cloudarb/internal/config"
	"github.com/cloudarb/cloudarb/internal/engine"
)

// Server hosts the HTTP API.
type Server struct {
	cfg      config.APIServerConfig
	engine   *engine.Engine
	detector *arbitrage.Detector
	agg      *aggregator.Aggregator

	httpServer *http.Server
}

func New(cfg config.APIServerConfig, eng *engine.Engine, det *arbitrage.Detector, agg *aggregator.Aggregator) *Server {
	s := &Server{
		cfg:      cfg,
		engine:   eng,
		detector: det,
		agg:      agg,
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("apiserver: listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving API: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize", s.handleOptimize)
		r.Post("/optimizations", s.handleSubmit)
		r.Get("/optimizations", s.handleListRuns)
		r.Get("/optimizations/{id}", s.handleGetRun)
		r.Get("/pricing/snapshot", s.handleSnapshot)
		r.Get("/opportunities", s.handleOpportunities)
		r.Get("/opportunities/stream", s.handleOpportunityStream)
		r.Get("/providers/health", s.handleProviderHealth)
	})

	return r
}
