// Package server provides the HTTP server implementation.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stealth-proxy-go/pkg/config"
	"stealth-proxy-go/pkg/logging"
	"stealth-proxy-go/pkg/metrics"
	"stealth-proxy-go/pkg/middleware"
)

const shutdownTimeout = 30 * time.Second

// Server is the main HTTP server.
type Server struct {
	httpServer *http.Server
	cfg        *config.Config
	log        *logging.Logger
	metrics    *metrics.Metrics
	router     *http.ServeMux
}

// New creates a new server with the given configuration. m may be nil.
func New(cfg *config.Config, log *logging.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		log:     log.WithComponent("server"),
		metrics: m,
		router:  http.NewServeMux(),
	}
}

// Router returns the server's router for registering handlers.
func (s *Server) Router() *http.ServeMux {
	return s.router
}

// Handler returns the router wrapped in the middleware chain. CORS sits
// innermost so error responses from every layer still carry its headers.
func (s *Server) Handler() http.Handler {
	middlewares := []func(http.Handler) http.Handler{
		middleware.Recovery(s.log),
		middleware.RequestID,
		middleware.Logging(s.log),
	}
	if s.metrics != nil {
		middlewares = append(middlewares, middleware.Metrics(s.metrics))
	}
	middlewares = append(middlewares, middleware.CORS)

	return middleware.Chain(s.router, middlewares...)
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		s.log.Info("server shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error("server shutdown error", "error", err)
		}
		close(done)
	}()

	s.log.Info("server starting", "port", s.cfg.Port, "endpoint", s.cfg.ProxyEndpoint)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	<-done
	s.log.Info("server stopped")
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
