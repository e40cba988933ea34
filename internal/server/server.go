package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/kaiketsu-ai/kaiketsu/internal/embedding"
	"github.com/kaiketsu-ai/kaiketsu/internal/ratelimit"
	"github.com/kaiketsu-ai/kaiketsu/internal/search"
)

// Server is the Kaiketsu HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Indexer, Searcher, Limiter.
type ServerConfig struct {
	// Required dependencies.
	Store    Store
	Pipeline Processor
	Embedder embedding.Provider
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Indexer  Indexer
	Searcher search.Searcher
	Limiter  ratelimit.Limiter

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// OpenAPISpec is the embedded OpenAPI YAML, served at GET /openapi.yaml.
	OpenAPISpec []byte
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Pipeline:            cfg.Pipeline,
		Embedder:            cfg.Embedder,
		Indexer:             cfg.Indexer,
		Searcher:            cfg.Searcher,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}

	// Ticket intake drives external classification and generation calls, so
	// it gets a tighter limit than reads.
	intakeRL := ratelimit.Middleware(cfg.Limiter, "intake", ratelimit.IPKeyFunc, reqIDFunc)
	readRL := ratelimit.Middleware(cfg.Limiter, "read", ratelimit.IPKeyFunc, reqIDFunc)

	mux := http.NewServeMux()

	// Ticket triage.
	mux.Handle("POST /v1/tickets", intakeRL(http.HandlerFunc(h.HandleProcessTicket)))
	mux.Handle("POST /v1/tickets/batch", intakeRL(http.HandlerFunc(h.HandleProcessBatch)))
	mux.Handle("GET /v1/tickets/{ticket_id}", readRL(http.HandlerFunc(h.HandleGetTicket)))

	// Learning loop.
	mux.Handle("POST /v1/feedback", readRL(http.HandlerFunc(h.HandleFeedback)))

	// Knowledge base management.
	mux.Handle("POST /v1/articles", intakeRL(http.HandlerFunc(h.HandleCreateArticle)))
	mux.Handle("GET /v1/articles", readRL(http.HandlerFunc(h.HandleListArticles)))
	mux.Handle("GET /v1/articles/{article_id}", readRL(http.HandlerFunc(h.HandleGetArticle)))
	mux.Handle("DELETE /v1/articles/{article_id}", intakeRL(http.HandlerFunc(h.HandleDeleteArticle)))

	// OpenAPI spec (no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health (no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
