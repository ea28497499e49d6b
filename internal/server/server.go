// Package server exposes the build job HTTP API: submission, status,
// cancellation, health and Prometheus metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Options wires the server's collaborators.
type Options struct {
	Addr           string
	Handlers       *BuildHandlers
	MetricsHandler http.Handler
	Logger         *slog.Logger
}

// Server is the HTTP front of the runner.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the server with its routes and middleware chain.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	adapter := NewHTTPErrorAdapter(logger)
	chain := Chain(logger, adapter)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/builds", opts.Handlers.HandleSubmit)
	mux.HandleFunc("GET /api/v1/builds", opts.Handlers.HandleList)
	mux.HandleFunc("GET /api/v1/builds/{id}", opts.Handlers.HandleGet)
	mux.HandleFunc("DELETE /api/v1/builds/{id}", opts.Handlers.HandleCancel)
	mux.HandleFunc("GET /healthz", opts.Handlers.HandleHealth)
	if opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", opts.MetricsHandler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         opts.Addr,
			Handler:      chain(mux),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the composed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the listener until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}
