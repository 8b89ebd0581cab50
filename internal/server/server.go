// Package server exposes the retrieval engine over an HTTP JSON API.
// The wire contract (field names, error shapes) is consumed by an
// external front-end and must stay stable.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hukm-search/hukm/internal/qa"
	"github.com/hukm-search/hukm/internal/search"
	"github.com/hukm-search/hukm/internal/store"
	"github.com/hukm-search/hukm/internal/synthesis"
	"github.com/hukm-search/hukm/internal/telemetry"
)

// Config configures the HTTP server.
type Config struct {
	// Host is the bind address (default: 127.0.0.1).
	Host string

	// Port is the listen port (default: 8091).
	Port int

	// AuthTokens are accepted bearer tokens. Empty disables auth.
	AuthTokens []string

	// ReadTimeout bounds request reading (default: 10s).
	ReadTimeout time.Duration

	// WriteTimeout bounds response writing (default: 30s).
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown (default: 10s).
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            8091,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// QAMatcher is the Q&A retrieval surface the server depends on.
type QAMatcher interface {
	Match(ctx context.Context, question string, opts qa.MatchOptions) (*qa.MatchResponse, error)
}

// Synthesizer aggregates search results for answer generation.
type Synthesizer interface {
	Synthesize(ctx context.Context, query string, filters store.Filters) (*synthesis.Response, error)
}

// FacetProvider serves cached facet counts.
type FacetProvider interface {
	Facets(ctx context.Context) (*store.FacetCounts, error)
}

// Server is the HTTP API server.
type Server struct {
	config      Config
	searcher    search.Searcher
	matcher     QAMatcher
	synthesizer Synthesizer
	facets      FacetProvider
	metrics     *telemetry.QueryMetrics
	logger      *slog.Logger

	engine *gin.Engine
	http   *http.Server
}

// Option configures the server.
type Option func(*Server)

// WithMetrics exposes query metrics on the health endpoint.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the server logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates the HTTP server over the given retrieval components.
func New(
	config Config,
	searcher search.Searcher,
	matcher QAMatcher,
	synthesizer Synthesizer,
	facets FacetProvider,
	opts ...Option,
) (*Server, error) {
	if searcher == nil {
		return nil, errors.New("server: searcher is required")
	}
	if matcher == nil {
		return nil, errors.New("server: qa matcher is required")
	}
	if synthesizer == nil {
		return nil, errors.New("server: synthesizer is required")
	}
	if facets == nil {
		return nil, errors.New("server: facet provider is required")
	}

	d := DefaultConfig()
	if config.Host == "" {
		config.Host = d.Host
	}
	if config.Port <= 0 {
		config.Port = d.Port
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = d.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = d.ShutdownTimeout
	}

	s := &Server{
		config:      config,
		searcher:    searcher,
		matcher:     matcher,
		synthesizer: synthesizer,
		facets:      facets,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.buildRouter()
	return s, nil
}

// buildRouter wires routes and middleware. Health stays outside the
// authenticated group so probes need no token.
func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.requestLogger())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api/v1", s.authenticate())
	api.POST("/search", s.handleSearch)
	api.POST("/search/qa", s.handleQA)
	api.POST("/search/synthesis", s.handleSynthesis)
	api.GET("/discovery/all", s.handleDiscovery)

	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr, "auth", len(s.config.AuthTokens) > 0)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	s.logger.Info("http server stopped")
	return <-errCh
}
