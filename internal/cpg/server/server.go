// Package server is the sync peer: it serves the four sync endpoints over
// one graph store so clients can push and pull deltas and snapshots.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/cpg/transport"
)

// MaxUploadSize caps a pushed delta or snapshot body.
const MaxUploadSize = 256 << 20

// Config holds server configuration
type Config struct {
	// Listen address (default: ":8090")
	Listen string

	// RateLimit is the sustained requests per second across all clients.
	// Zero disables limiting.
	RateLimit float64

	// Burst is the limiter bucket size (default: twice RateLimit, at least 1)
	Burst int

	Logger *zap.Logger

	// Clock stamps lastSync (default: time.Now)
	Clock func() time.Time
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{Listen: ":8090", RateLimit: 50}
}

// Server serves the sync endpoints.
type Server struct {
	store   *db.DB
	addr    string
	logger  *zap.Logger
	limiter *rate.Limiter
	clock   func() time.Time
	handler http.Handler

	// syncMu orders pushes against pulls: a pull never answers with a
	// lastSync later than the stamp of a push still being written.
	syncMu sync.RWMutex
	replay func(ctx context.Context, entries []schema.Entry, opts db.ReplayOptions) (int, error)
}

// New creates a server over store.
func New(store *db.DB, cfg Config) *Server {
	if cfg.Listen == "" {
		cfg.Listen = DefaultConfig().Listen
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	s := &Server{
		store:  store,
		addr:   cfg.Listen,
		logger: cfg.Logger.Named("server"),
		clock:  cfg.Clock,
	}
	s.replay = store.ReplayEntries
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(1, int(2*cfg.RateLimit))
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+transport.PathToServer, s.handlePush)
	mux.HandleFunc("GET "+transport.PathFromServer, s.handlePull)
	mux.HandleFunc("POST "+transport.PathToServerViaJSON, s.handlePushSnapshot)
	mux.HandleFunc("GET "+transport.PathFromServerViaJSON, s.handlePullSnapshot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = s.instrument(s.rateLimit(s.protocol(mux)))
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run listens on the configured address until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the server on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("sync server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		s.logger.Info("sync server stopped")
		return nil
	})
	return g.Wait()
}
