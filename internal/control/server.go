// Package control is the boundary a GUI or CLI speaks to: an HTTP API
// for status queries, symbol start/stop, force-flatten, pair
// configuration, and history export, plus Prometheus metrics. Mutating
// calls enqueue work on the symbol's worker and return immediately; the
// core never depends on this package.
package control

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"flipperBot/internal/domain"
	"flipperBot/internal/engine"
	"flipperBot/internal/ports"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the slice of the flip engine the control surface drives.
type Engine interface {
	Track(symbol string, accepting bool) error
	StartSymbol(ctx context.Context, symbol string) error
	StopSymbol(ctx context.Context, symbol string) error
	ForceFlatten(ctx context.Context, symbol string, reason domain.CloseReason) error
	FlattenAll(ctx context.Context, reason domain.CloseReason) error
	Status(symbol string) (*engine.SymbolStatus, error)
	Statuses() []*engine.SymbolStatus
}

// Config holds the HTTP server settings.
type Config struct {
	ListenAddr string
	Engine     Engine
	Store      ports.Store
	Logger     ports.Logger
}

// Server serves the control API.
type Server struct {
	server *http.Server
	logger ports.Logger
}

// New creates the control server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil || cfg.Store == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for control server: %w", ports.ErrConfigurationError)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8880"
	}

	h := &handlers{eng: cfg.Engine, store: cfg.Store, logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", h.health)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", h.listStatus)
		r.Get("/status/{symbol}", h.symbolStatus)
		r.Post("/symbols/{symbol}/start", h.startSymbol)
		r.Post("/symbols/{symbol}/stop", h.stopSymbol)
		r.Post("/symbols/{symbol}/flatten", h.flattenSymbol)
		r.Post("/flatten", h.flattenAll)
		r.Get("/pairs", h.listPairs)
		r.Put("/pairs/{symbol}", h.upsertPair)
		r.Post("/pairs/{symbol}/enable", h.enablePair)
		r.Post("/pairs/{symbol}/disable", h.disablePair)
		r.Get("/flips", h.listFlips)
		r.Get("/flips/export", h.exportFlips)
		r.Get("/pnl", h.totalPNL)
	})

	return &Server{
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           r,
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: cfg.Logger,
	}, nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start blocks serving HTTP until the server stops.
func (s *Server) Start() error {
	s.logger.Info(context.Background(), "Control server listening", map[string]interface{}{"addr": s.server.Addr})
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("control server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "Control server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("control server shutdown: %w", err)
	}
	return nil
}
