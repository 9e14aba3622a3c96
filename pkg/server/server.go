package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rugalib/ruga-filepond/internal/logger"
	"github.com/rugalib/ruga-filepond/internal/ratelimiter"
	"github.com/rugalib/ruga-filepond/pkg/engine"
	"github.com/rugalib/ruga-filepond/pkg/router"
)

// DefaultShutdownTimeout bounds graceful shutdown when Config leaves it unset.
const DefaultShutdownTimeout = 30 * time.Second

// Config configures the upload HTTP server.
type Config struct {
	// Port to listen on. 0 picks a free port.
	Port int

	// ShutdownTimeout bounds graceful shutdown after the Start context ends.
	// Default: 30s
	ShutdownTimeout time.Duration

	// FieldName is the protocol form field (default "filepond")
	FieldName string

	// MaxMemory bounds multipart parsing in memory
	MaxMemory int64

	// MaxBodySize caps POST bodies in bytes. 0 means unlimited.
	MaxBodySize int64

	// Metrics, when set, is served at GET /metrics ahead of the rate limit.
	Metrics http.Handler

	// AllowedOrigins lists CORS origins. "*" allows any origin; an empty
	// list disables CORS headers.
	AllowedOrigins []string

	// RequestsPerSecond and Burst configure the per-client rate limit.
	// 0 requests per second disables limiting.
	RequestsPerSecond uint
	Burst             uint
}

func (c *Config) applyDefaults() {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Server hosts the protocol engine over HTTP.
//
// Routes:
//   - GET /healthz: liveness probe, answers "ok"
//   - GET /metrics: Prometheus metrics, only when Config.Metrics is set
//   - everything else: parsed with router.ParseHTTP and handed to the engine
//
// Lifecycle:
//  1. New() builds the router and middleware chain
//  2. Start() listens and blocks until its context is cancelled
//  3. Stop() shuts down gracefully; it is safe to call more than once
type Server struct {
	config  Config
	engine  *engine.Engine
	limiter *ratelimiter.KeyedLimiter
	handler http.Handler
	server  *http.Server

	mu           sync.Mutex
	addr         net.Addr
	shutdownOnce sync.Once
}

// New creates a server in a stopped state.
//
// Parameters:
//   - config: listener, CORS and rate limit settings
//   - eng: the protocol engine every upload request is dispatched to
//
// Returns a configured but not yet started Server.
func New(config Config, eng *engine.Engine) *Server {
	config.applyDefaults()

	s := &Server{
		config:  config,
		engine:  eng,
		limiter: ratelimiter.NewKeyed(config.RequestsPerSecond, config.Burst, ratelimiter.DefaultIdleTTL),
	}
	s.handler = s.routes()
	s.server = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	if s.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.config.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(cors(s.config.AllowedOrigins))
		r.Use(rateLimit(s.limiter))

		r.Get("/healthz", s.health)
		r.NotFound(s.serveUpload)
		r.MethodNotAllowed(s.serveUpload)
		r.HandleFunc("/*", s.serveUpload)
	})

	return r
}

// Handler returns the root handler, middleware included.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured port and blocks until ctx is cancelled or
// the listener fails. Cancellation triggers a graceful shutdown bounded by
// ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Upload server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Upload server shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("upload server failed: %w", err)
	}
}

// Stop gracefully shuts the server down. In-flight requests complete unless
// ctx expires first. Only the first call has an effect.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		logger.Debug("Upload server shutdown initiated")

		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("upload server shutdown error: %w", err)
			logger.Error("Upload server shutdown error: %v", err)
		} else {
			logger.Info("Upload server stopped gracefully")
		}
	})
	return shutdownErr
}

// Addr returns the listener address, or nil before Start has bound it.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Server) parseOptions() router.ParseOptions {
	return router.ParseOptions{
		FieldName: s.config.FieldName,
		MaxMemory: s.config.MaxMemory,
	}
}
