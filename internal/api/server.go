// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the operator HTTP surface: event registration, chunk
// ingest, segment listing, replay export and the health and metrics probes.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuGH/mre/internal/api/middleware"
	"github.com/ManuGH/mre/internal/clock"
	"github.com/ManuGH/mre/internal/config"
	"github.com/ManuGH/mre/internal/health"
	"github.com/ManuGH/mre/internal/log"
	"github.com/ManuGH/mre/internal/pipeline/lifecycle"
	"github.com/ManuGH/mre/internal/pipeline/replay"
	"github.com/ManuGH/mre/internal/pipeline/segment"
	"github.com/ManuGH/mre/internal/pipeline/worker"
)

// Deps are the services the handlers call into.
type Deps struct {
	Scheduler *lifecycle.Scheduler
	Ingestor  *worker.Ingestor
	Tracker   *segment.Tracker
	Profiles  worker.ProfileSource
	Sink      replay.Sink
	Health    *health.Manager
	Clock     clock.Clock
}

// Server owns the router and the listening http.Server.
type Server struct {
	cfg     config.APIConfig
	deps    Deps
	handler http.Handler
}

// New builds the router. Probe and scrape routes sit outside the rate limit.
func New(cfg config.APIConfig, serviceName string, deps Deps) *Server {
	if deps.Sink == nil {
		deps.Sink = replay.NopSink{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Health == nil {
		deps.Health = health.NewManager("")
	}
	s := &Server{cfg: cfg, deps: deps}

	r := middleware.NewRouter(middleware.StackConfig{EnableMetrics: true, EnableLogging: true})

	r.Get("/healthz", deps.Health.ServeHealth)
	r.Get("/readyz", deps.Health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit > 0 {
			r.Use(middleware.RateLimit(middleware.RateLimitConfig{RequestLimit: cfg.RateLimit, WindowSize: time.Minute}))
		}
		r.Post("/events", s.handleRegisterEvent)
		r.Get("/events/{program}/{event}", s.handleGetEvent)
		r.Post("/events/{program}/{event}/complete", s.handleCompleteEvent)
		r.Post("/chunks", s.handleIngestChunk)
		r.Get("/segments", s.handleListSegments)
		r.Post("/replays", s.handleExportReplay)
		r.Post("/schedules/sweep", s.handleSweep)
	})

	s.handler = middleware.OTelHTTP(serviceName, r)
	return s
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests for up to ShutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	logger := log.WithComponent("api")

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	logger.Info().Dur("timeout", timeout).Msg("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
