// Package http serves the operational endpoints of the scheduler:
// health, readiness, last run status, manual trigger and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openctemio/vulnsync/internal/infra/http/handler"
	"github.com/openctemio/vulnsync/internal/infra/http/middleware"
	"github.com/openctemio/vulnsync/pkg/logger"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	router     Router
	logger     *logger.Logger
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer creates the HTTP server and registers every route.
func NewServer(cfg ServerConfig, health *handler.HealthHandler, sync *handler.SyncHandler, log *logger.Logger) *Server {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		router: NewChiRouter(),
		logger: log.With("component", "http"),
	}

	s.router.Use(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		middleware.Metrics(),
		middleware.Logger(s.logger),
	)
	registerRoutes(s.router, health, sync)

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  time.Minute,
	}
	return s
}

func registerRoutes(r Router, health *handler.HealthHandler, sync *handler.SyncHandler) {
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())
	if sync != nil {
		r.GET("/status", sync.Status)
		r.POST("/run", sync.Trigger)
	}
}

// Handler returns the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	_ = s.router.Walk(func(method, path string) error {
		s.logger.Debug("route", "method", method, "path", path)
		return nil
	})

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Serve serves on an existing listener.
func (s *Server) Serve(l net.Listener) error {
	if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	s.logger.Info("HTTP server stopped")
	return nil
}
