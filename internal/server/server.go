// Package server exposes the chat pipeline, registration and analytics
// over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"eco-counselor/internal/config"
	"eco-counselor/internal/db"
	"eco-counselor/internal/metrics"
	"eco-counselor/internal/models"
	"eco-counselor/internal/rag"
)

const shutdownTimeout = 30 * time.Second

// ChatResponder runs one chat request through the RAG pipeline.
type ChatResponder interface {
	Respond(ctx context.Context, query string, history []models.Turn) (*rag.Response, error)
}

// Store is the relational backend used by the handlers.
type Store interface {
	CreateUser(ctx context.Context, email, password string) (*db.User, error)
	Authenticate(ctx context.Context, email, password string) (*db.User, error)
	Summary(ctx context.Context) (*db.Summary, error)
	RecentConversations(ctx context.Context, limit int) ([]db.Conversation, error)
	Ping(ctx context.Context) error
}

type Server struct {
	cfg      *config.ServerConfig
	pipeline ChatResponder
	store    Store
	metrics  *metrics.Metrics
	router   *gin.Engine
}

func New(cfg *config.ServerConfig, pipeline ChatResponder, store Store, m *metrics.Metrics) (*Server, error) {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	if m == nil {
		m = metrics.New()
	}
	s := &Server{
		cfg:      cfg,
		pipeline: pipeline,
		store:    store,
		metrics:  m,
	}
	router, err := s.setupRouter()
	if err != nil {
		return nil, err
	}
	s.router = router
	return s, nil
}

// Handler returns the configured gin engine.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() (*gin.Engine, error) {
	limiter, err := newIPRateLimiter(s.cfg.RateLimit)
	if err != nil {
		return nil, err
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(s.metrics))
	router.Use(corsMiddleware(s.cfg.CORSOrigins))

	router.GET("/", s.handleRoot)
	router.GET("/health", s.handleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))

	limited := router.Group("/", limiter.middleware())
	limited.POST("/register", s.handleRegister)
	limited.POST("/login", s.handleLogin)
	limited.POST("/chat", s.handleChat)

	analytics := router.Group("/analytics")
	analytics.GET("/summary", s.handleSummary)
	analytics.GET("/conversations", s.handleConversations)

	return router, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info().Msg("Server exited")
	return nil
}
