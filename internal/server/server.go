// Package server implements the HTTP bridge that exposes the answer engine
// over a REST/SSE API. The server is started by the `kestrel serve` CLI
// command and is intended to bind to loopback.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kestrelnotes/kestrel-go/internal/answer"
	"github.com/kestrelnotes/kestrel-go/internal/logging"
	"github.com/kestrelnotes/kestrel-go/internal/provider"
	"github.com/kestrelnotes/kestrel-go/internal/telemetry"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8765).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	// Must be long enough for streaming answers.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	Logger *slog.Logger
	// RateLimit is the sustained request rate allowed per IP on /api/*
	// routes (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20
	// if zero.
	RateBurst int
	// APIKey is the Bearer token required on protected /api/* routes.
	// If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server's own metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// searcher is the interface the query handlers call. *answer.Engine
// satisfies it; tests inject a fake.
type searcher interface {
	SearchLocal(ctx context.Context, query string) ([]answer.SearchResult, error)
	Search(ctx context.Context, query string) ([]answer.SearchResult, error)
	SearchWithStream(ctx context.Context, query string, onChunk func(chunk string)) ([]answer.SearchResult, error)
}

// backendPool is the interface the provider handlers call. *provider.Manager
// satisfies it.
type backendPool interface {
	Providers(ctx context.Context) []provider.Descriptor
	SetProvider(name string) bool
}

// statsSource yields the telemetry snapshot for GET /api/stats.
// *telemetry.Ledger satisfies it.
type statsSource interface {
	Snapshot() telemetry.Snapshot
}

// Server is the HTTP bridge over the answer engine and backend pool.
type Server struct {
	engine  searcher
	pool    backendPool
	stats   statsSource
	cfg     *Config
	log     *slog.Logger
	metrics *serverMetrics

	httpServer *http.Server
	// stopRL stops the rate limiter's eviction goroutine on shutdown.
	stopRL func()
}

// New constructs a Server over the given engine, backend pool, and telemetry
// source.
func New(engine *answer.Engine, pool *provider.Manager, stats *telemetry.Ledger, cfg *Config) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("server: engine must not be nil")
	}
	return newServer(engine, pool, stats, cfg), nil
}

// newServer is the interface-typed constructor shared with tests.
func newServer(engine searcher, pool backendPool, stats statsSource, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8765
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		engine:  engine,
		pool:    pool,
		stats:   stats,
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.Logger)
	s.stopRL = stopRL

	mux := http.NewServeMux()
	protected := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(cfg.APIKey, rl.middleware(h))
	}
	mux.Handle("POST /api/search", protected(s.handleSearch))
	mux.Handle("POST /api/ask", protected(s.handleAsk))
	mux.Handle("POST /api/ask/stream", protected(s.handleAskStream))
	mux.Handle("GET /api/providers", protected(s.handleProviders))
	mux.Handle("POST /api/providers/select", protected(s.handleProviderSelect))
	mux.Handle("GET /api/stats", protected(s.handleStats))
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.instrument(requestLogger(cfg.Logger, mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Handler exposes the full middleware-wrapped handler for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.APIKey == "" {
		s.log.Warn("api authentication disabled; set server.api_key or KESTREL_API_KEY to enable")
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		s.stopRL()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("response encode error", slog.Any("error", err))
	}
}

// instrument wraps next with the request counter and latency histogram.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)
		elapsed := time.Since(start)

		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, fmt.Sprintf("%d", rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, r.URL.Path).Observe(elapsed.Seconds())
	})
}

// logFrom returns the request-scoped logger placed by requestLogger.
func logFrom(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context())
}
