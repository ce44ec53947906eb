// Package server provides the HTTP API for crmcache.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hubmind/crmcache/internal/cache"
	"github.com/hubmind/crmcache/internal/config"
	"github.com/hubmind/crmcache/internal/storage"
)

// Server is the HTTP server for the crmcache API.
type Server struct {
	coordinator *cache.Coordinator
	storage     storage.Store
	config      *config.ServerConfig
	storageCfg  *config.StorageConfig
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	coordinator *cache.Coordinator,
	store storage.Store,
	cfg *config.ServerConfig,
	storageCfg *config.StorageConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		coordinator: coordinator,
		storage:     store,
		config:      cfg,
		storageCfg:  storageCfg,
		logger:      logger,
	}
}

// Router builds the HTTP routes. Exposed separately so tests can drive the
// handlers without a listening socket.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/ingest", s.handleIngest)
	r.Post("/api/v1/ingest/batch", s.handleIngestBatch)
	r.Post("/api/v1/search", s.handleSearch)
	r.Get("/api/v1/recent", s.handleRecent)
	r.Get("/api/v1/records/{id}", s.handleGetRecord)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
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
