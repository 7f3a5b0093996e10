// Package server provides the HTTP API for ReadMatrix.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/readmatrix/internal/config"
	"github.com/hyperjump/readmatrix/internal/conversation"
	"github.com/hyperjump/readmatrix/internal/doctor"
	"github.com/hyperjump/readmatrix/internal/indexer"
	"github.com/hyperjump/readmatrix/internal/keyword"
	"github.com/hyperjump/readmatrix/internal/qa"
)

const requestTimeout = 60 * time.Second

// Server is the HTTP server for the ReadMatrix API.
type Server struct {
	indexer       *indexer.Manager
	qa            *qa.Orchestrator
	conversations *conversation.Service
	keyword       keyword.Index
	doctor        *doctor.Doctor
	config        *config.ServerConfig
	version       string
	logger        *zap.Logger
	server        *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithKeywordIndex enables the keyword search endpoint.
func WithKeywordIndex(idx keyword.Index) Option {
	return func(s *Server) { s.keyword = idx }
}

// WithDoctor enables the doctor endpoint.
func WithDoctor(d *doctor.Doctor) Option {
	return func(s *Server) { s.doctor = d }
}

// NewServer creates a server with the given dependencies.
func NewServer(
	idx *indexer.Manager,
	orchestrator *qa.Orchestrator,
	conversations *conversation.Service,
	cfg *config.ServerConfig,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		indexer:       idx,
		qa:            orchestrator,
		conversations: conversations,
		config:        cfg,
		version:       "dev",
		logger:        logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the API router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Long-running routes: asking may stream and indexing may take minutes.
		r.Post("/ask", s.handleAsk)
		r.Post("/index", s.handleIndex)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))
			r.Use(middleware.Compress(5))

			r.Get("/health", s.handleHealth)
			r.Post("/doctor", s.handleDoctor)
			r.Get("/index/status", s.handleIndexStatus)
			r.Get("/stats", s.handleStats)
			r.Get("/search", s.handleSearch)

			r.Route("/conversations", func(r chi.Router) {
				r.Post("/", s.handleCreateConversation)
				r.Get("/", s.handleListConversations)
				r.Get("/{id}", s.handleGetConversation)
				r.Get("/{id}/messages", s.handleListMessages)
				r.Delete("/{id}", s.handleDeleteConversation)
			})
		})
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
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
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// requestLogger logs one line per request with chi's request id, and echoes the id
// back in X-Request-ID.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := middleware.GetReqID(r.Context())
			if reqID != "" {
				w.Header().Set("X-Request-ID", reqID)
			}
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				fields := []zap.Field{
					zap.String("request_id", reqID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", status),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("latency", time.Since(start)),
					zap.String("client_ip", r.RemoteAddr),
				}
				if status >= http.StatusInternalServerError {
					logger.Error("http request", fields...)
					return
				}
				logger.Info("http request", fields...)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
