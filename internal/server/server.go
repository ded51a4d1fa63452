// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sigil-dev/rpcrouter/internal/dispatch"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/sigil-dev/rpcrouter/pkg/health"
)

// RoutedViaHeader names the provider that served a proxied request.
const RoutedViaHeader = "X-Routed-Via"

const (
	defaultRequestTimeout = 30 * time.Second
	// writeMargin leaves room to write the error after a request deadline.
	writeMargin = 5 * time.Second
)

// Gateway is the load balancer surface the transport needs.
type Gateway interface {
	Proxy(ctx context.Context, body []byte) (dispatch.Result, error)
	Dispatch(ctx context.Context, strategy dispatch.Strategy, body []byte) (dispatch.Result, error)
	Stats() health.Stats
	Health() []health.ProviderHealth
}

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// RequestTimeout bounds one proxied request across every provider a
	// strategy tries. WriteTimeout is kept above it.
	RequestTimeout time.Duration

	Gateway Gateway
	// Metrics is served on GET /metrics when set.
	Metrics http.Handler
	// Version is reported in the OpenAPI document.
	Version string
}

// Server wraps a chi router with huma API and HTTP server.
type Server struct {
	router  chi.Router
	api     huma.API
	cfg     Config
	gateway Gateway
}

// New creates a Server with the JSON-RPC proxy routes, the huma stats and
// health endpoints, and CORS.
func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, sigilerr.New(sigilerr.CodeServerConfigInvalid, "listen address is required")
	}
	if cfg.Gateway == nil {
		return nil, sigilerr.New(sigilerr.CodeServerConfigInvalid, "gateway is required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.WriteTimeout <= cfg.RequestTimeout {
		cfg.WriteTimeout = cfg.RequestTimeout + writeMargin
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("rpcrouter", cfg.Version)
	humaConfig.Info.Description = "Adaptive JSON-RPC load balancer"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:  r,
		api:     api,
		cfg:     cfg,
		gateway: cfg.Gateway,
	}

	srv.registerRoutes()
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	r.Post("/", srv.handleProxy)
	r.Post("/{strategy}", srv.handleStrategy)

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeServerStartFailure, "listening on %s: %w", s.cfg.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("proxy listening", "addr", ln.Addr().String())

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return sigilerr.Errorf(sigilerr.CodeServerStartFailure, "serving: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return sigilerr.Errorf(sigilerr.CodeServerShutdownFailure, "shutting down: %w", err)
	}

	return <-errCh
}

// corsMiddleware allows any origin by default. Browser clients need to read
// X-Routed-Via and X-Request-ID.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		ExposedHeaders: []string{RoutedViaHeader, RequestIDHeader},
		MaxAge:         300,
	})
}
