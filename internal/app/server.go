package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/clindoc/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/clindoc/internal/api/middlewares"
	"github.com/markdave123-py/clindoc/internal/config"
)

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer builds and wires all routes.
func NewServer(cfg *config.Config, docs handlers.DocumentService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	docHandler := handlers.NewDocumentHandler(docs, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", handlers.Health)

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware([]byte(cfg.JWTSecret)))

		api.Group(func(short chi.Router) {
			short.Use(middleware.Timeout(60 * time.Second))
			short.Post("/documents/upload", docHandler.UploadDocument)
			short.Get("/documents", docHandler.GetDocuments)
			short.Get("/documents/{id}", docHandler.GetDocument)
			short.Get("/documents/{id}/chunks", docHandler.GetDocumentChunks)
		})

		// Batches are bounded by the pipeline timeout, not the request timeout.
		api.Post("/batches", docHandler.RunBatch)
	})

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &Server{httpServer: httpSrv, logger: logger}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
