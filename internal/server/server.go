// Package server hosts the HTTP ingest apps over chi.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/annexlab/annex/internal/config"
	apperrors "github.com/annexlab/annex/internal/errors"
	"github.com/annexlab/annex/internal/server/handlers"
	"github.com/annexlab/annex/internal/server/middleware"
)

// Server is one ingest app: a chi router plus its http.Server.
type Server struct {
	cfg    config.ServerConfig
	router chi.Router
	http   *http.Server
	logger *zap.Logger
}

// New creates a server for the named service. Routes are registered by the
// caller through Router before Run.
func New(cfg config.ServerConfig, service string, logger *zap.Logger) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery)

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusNotFound, apperrors.CodeNotFound,
			"no such endpoint", middleware.GetRequestID(req.Context()))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.WriteError(w, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
			"method not allowed", middleware.GetRequestID(req.Context()))
	})

	r.Get("/health", handlers.Health(service))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		cfg:    cfg,
		router: r,
		logger: logger,
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Router exposes the router for route registration.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler exposes the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is canceled, then shuts down gracefully within the
// configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}
