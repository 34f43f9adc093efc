// Package server provides the HTTP API for vecbridge.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/vecbridge/internal/collection"
	"github.com/hyperjump/vecbridge/internal/config"
	"go.uber.org/zap"
)

// ServiceName identifies this sidecar in health responses.
const ServiceName = "vecbridge"

// Server is the HTTP server for the vecbridge API.
type Server struct {
	col     *collection.Collection
	config  *config.ServerConfig
	persist *config.PersistenceConfig
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(col *collection.Collection, cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		col:     col,
		config:  &cfg.Server,
		persist: &cfg.Persistence,
		logger:  logger,
	}
}

// Router builds the request router. Exposed for tests.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(s.recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/init", s.handleInit)
	r.Post("/insert", s.handleInsert)
	r.Post("/insert_batch", s.handleInsertBatch)
	r.Post("/search", s.handleSearch)
	r.Post("/clear", s.handleClear)
	r.Post("/save", s.handleSave)
	r.Post("/load", s.handleLoad)

	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// recoverer turns a per-request panic into a structured 500 response so no
// request can terminate the process.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("request panic",
					zap.String("path", r.URL.Path),
					zap.Any("panic", rec))
				s.respondError(w, http.StatusInternalServerError, fmt.Sprintf("%v", rec))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
