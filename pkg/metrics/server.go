package metrics

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
)

// DefaultPort is the metrics listener port when ServerConfig leaves it unset.
const DefaultPort = 9090

// ServerConfig configures the standalone metrics listener.
type ServerConfig struct {
	// Port to listen on. Negative values select DefaultPort, 0 picks a free
	// port.
	Port int

	// ShutdownTimeout bounds graceful shutdown after the Start context ends.
	// Default: 5s
	ShutdownTimeout time.Duration
}

func (c *ServerConfig) applyDefaults() {
	if c.Port < 0 {
		c.Port = DefaultPort
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
}

// Server exposes /metrics and /healthz on a port of its own, so scrapes
// bypass the rate limit and CORS handling of the upload listener.
type Server struct {
	config ServerConfig
	server *http.Server

	mu           sync.Mutex
	addr         net.Addr
	shutdownOnce sync.Once
}

// NewServer creates a metrics server in a stopped state.
func NewServer(config ServerConfig) *Server {
	config.applyDefaults()

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		config: config,
		server: &http.Server{
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Handler returns the metrics router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start listens and blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("metrics server failed to listen on port %d: %w", s.config.Port, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("metrics server failed: %w", err)
	}
}

// Stop shuts the server down gracefully. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("metrics server shutdown error: %w", err)
			return
		}
		logger.Info("Metrics server stopped")
	})
	return shutdownErr
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
