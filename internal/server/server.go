// Package server provides the HTTP API for StoryForge.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/hyperjump/storyforge/internal/config"
	"github.com/hyperjump/storyforge/internal/harvest"
	"github.com/hyperjump/storyforge/internal/ratelimit"
	"github.com/hyperjump/storyforge/internal/storyteller"
	"github.com/hyperjump/storyforge/internal/vectordb"
	"go.uber.org/zap"
)

// StoryTeller generates stories for the /stories endpoints.
type StoryTeller interface {
	GenerateStory(ctx context.Context, req storyteller.StoryRequest) (*storyteller.Story, error)
	GenerateInteractive(ctx context.Context, prompt, ageGroup string) (*storyteller.InteractiveStory, error)
	StreamStory(ctx context.Context, req storyteller.StoryRequest, fn func(string) error) error
}

// ModelStatus reports on the model server.
type ModelStatus interface {
	Status(ctx context.Context) storyteller.Status
}

// Server is the HTTP server for the StoryForge API.
type Server struct {
	db        *vectordb.DB
	harvester *harvest.Harvester
	teller    StoryTeller
	models    ModelStatus
	config    *config.Config
	limiter   *ratelimit.FixedWindow
	upgrader  websocket.Upgrader
	logger    *zap.Logger
	server    *http.Server
}

// NewServer creates a server with the given dependencies. teller and models may
// be nil, in which case the story and model endpoints answer 501.
func NewServer(
	db *vectordb.DB,
	h *harvest.Harvester,
	teller StoryTeller,
	models ModelStatus,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		db:        db,
		harvester: h,
		teller:    teller,
		models:    models,
		config:    cfg,
		limiter:   ratelimit.NewFixedWindow(cfg.RateLimit.Limit, cfg.RateLimit.Window, cfg.RateLimit.Window),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Use(middleware.Compress(5))
			r.Get("/status", s.handleStatus)
			r.Get("/collections", s.handleCollections)
			r.Post("/query", s.handleQuery)
			r.Post("/records", s.handleAddRecord)
			r.Post("/harvest", s.handleHarvest)
			r.Get("/export", s.handleExport)
			r.Get("/models", s.handleModels)
		})

		r.Group(func(r chi.Router) {
			r.Use(ratelimit.Middleware(s.limiter, s.logger))
			r.Post("/stories/generate", s.handleGenerateStory)
			r.Post("/stories/interactive", s.handleInteractiveStory)
			r.Get("/stories/stream", s.handleStreamStory)
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	s.limiter.Stop()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
