// Package server provides the HTTP API for paperchat.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/evidenceworks/paperchat/internal/config"
	"github.com/evidenceworks/paperchat/internal/pipeline"
	"github.com/evidenceworks/paperchat/internal/retriever"
	"github.com/evidenceworks/paperchat/internal/storage"
	"github.com/evidenceworks/paperchat/internal/synthesis"
	"github.com/evidenceworks/paperchat/internal/vector"
)

// Server is the HTTP server for the paperchat API.
type Server struct {
	retriever   *retriever.Retriever
	synthesizer *synthesis.Synthesizer
	pipeline    *pipeline.Pipeline
	storage     storage.Storage
	index       vector.Index
	config      *config.Config
	logger      *zap.Logger
	server      *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	ret *retriever.Retriever,
	synth *synthesis.Synthesizer,
	pipe *pipeline.Pipeline,
	store storage.Storage,
	index vector.Index,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		retriever:   ret,
		synthesizer: synth,
		pipeline:    pipe,
		storage:     store,
		index:       index,
		config:      cfg,
		logger:      logger,
	}
}

// Router returns the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/api/v1/papers", s.handleListPapers)
	r.Post("/api/v1/upload-url", s.handleUploadURL)
	r.Put("/upload", s.handleUpload)
	r.Post("/api/v1/ingest", s.handleIngest)
	r.Post("/api/v1/chat", s.handleChat)
	r.Get("/papers/{id}/pdf", s.handlePaperPDF)
	r.Get("/api/v1/status", s.handleStatus)
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
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
