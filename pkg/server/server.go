// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fourotwo-xyz/web-scraper/pkg/api"
	"github.com/fourotwo-xyz/web-scraper/pkg/attestation"
	"github.com/fourotwo-xyz/web-scraper/pkg/extract"
	"github.com/fourotwo-xyz/web-scraper/pkg/gate"
	"github.com/fourotwo-xyz/web-scraper/pkg/metering"
	"github.com/fourotwo-xyz/web-scraper/pkg/observability"
	"github.com/fourotwo-xyz/web-scraper/pkg/payment"
	"github.com/fourotwo-xyz/web-scraper/pkg/quota"
)

// Config holds listener settings.
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Deps are the collaborators the server is assembled from. Quota, Enforcer
// and Extractor are required. Signer nil disables attestations.
type Deps struct {
	Quota       quota.Store
	Enforcer    payment.Enforcer
	Extractor   extract.Extractor
	Signer      *attestation.Signer
	Meter       metering.Meter
	Metrics     *observability.Metrics
	Telemetry   *observability.Provider
	RateLimiter *api.RateLimiter
	Logger      *slog.Logger
}

// Server is the gateway's HTTP surface.
type Server struct {
	cfg       Config
	quota     quota.Store
	gate      *gate.Gate
	extractor extract.Extractor
	signer    *attestation.Signer
	meter     metering.Meter
	metrics   *observability.Metrics
	telemetry *observability.Provider
	limiter   *api.RateLimiter
	logger    *slog.Logger
	handler   http.Handler
}

// New assembles a server. Optional dependencies default to in-memory or
// disabled implementations.
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Quota == nil || deps.Enforcer == nil || deps.Extractor == nil {
		return nil, errors.New("server: quota, enforcer and extractor are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Meter == nil {
		deps.Meter = metering.NewMemoryMeter()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics("paygate")
	}
	if deps.Telemetry == nil {
		tel, err := observability.New(context.Background(), nil)
		if err != nil {
			return nil, fmt.Errorf("server: telemetry: %w", err)
		}
		deps.Telemetry = tel
	}

	logger := deps.Logger.With("component", "server")
	s := &Server{
		cfg:       cfg,
		quota:     deps.Quota,
		extractor: deps.Extractor,
		signer:    deps.Signer,
		meter:     deps.Meter,
		metrics:   deps.Metrics,
		telemetry: deps.Telemetry,
		limiter:   deps.RateLimiter,
		logger:    logger,
	}
	s.gate = gate.New(deps.Quota, deps.Enforcer,
		gate.WithLogger(deps.Logger.With("component", "gate")),
		gate.WithMeter(deps.Meter),
		gate.WithMetrics(deps.Metrics),
	)
	s.handler = s.routes()
	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(api.RequestID)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Method(http.MethodPost, "/v1/extract", s.metrics.HTTPMiddleware("/v1/extract",
			validateExtractRequest(s.gate.Wrap(http.HandlerFunc(s.handleExtract)))))
		r.Method(http.MethodGet, "/v1/usage", s.metrics.HTTPMiddleware("/v1/usage",
			http.HandlerFunc(s.handleUsage)))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		api.WriteErrorR(w, r, http.StatusNotFound, "Not Found", "no such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		api.WriteErrorR(w, r, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if s.limiter != nil {
		go s.limiter.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", "timeout", s.cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
