// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package balancer wires the provider registry, health prober, router and
// dispatch engine into one load balancer.
package balancer

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/samber/lo"
	"github.com/sigil-dev/rpcrouter/internal/config"
	"github.com/sigil-dev/rpcrouter/internal/dispatch"
	"github.com/sigil-dev/rpcrouter/internal/metrics"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/router"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/sigil-dev/rpcrouter/pkg/health"
	"github.com/sourcegraph/conc"
)

// Balancer is the composition root shared by the HTTP transport and library
// callers.
type Balancer struct {
	cfg      *config.Config
	registry *provider.Registry
	prober   *provider.Prober
	engine   *dispatch.Engine
	metrics  *metrics.Metrics

	wg conc.WaitGroup
}

type options struct {
	metrics     *metrics.Metrics
	client      *http.Client
	probeClient *http.Client
	check       provider.CheckFunc
}

// Option configures a Balancer.
type Option func(*options)

// WithMetrics shares a metrics instance; by default New creates one.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithHTTPClient sets the client used for proxied calls and probes.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.client = c
		o.probeClient = c
	}
}

// WithCheckFunc replaces the getHealth probe (for testing).
func WithCheckFunc(fn provider.CheckFunc) Option {
	return func(o *options) { o.check = fn }
}

// New builds a Balancer from cfg. The prober does not run until Start.
func New(cfg *config.Config, opts ...Option) (*Balancer, error) {
	if cfg == nil {
		return nil, sigilerr.New(sigilerr.CodeServerConfigInvalid, "config is required")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}
	if o.client == nil {
		o.client = &http.Client{Timeout: cfg.Settings.RequestTimeout}
	}

	reg, err := provider.NewRegistry(cfg.ProviderList())
	if err != nil {
		return nil, err
	}

	proberOpts := []provider.ProberOption{
		provider.WithInterval(cfg.Settings.ProbeInterval),
		provider.WithProbeTimeout(cfg.Settings.ProbeTimeout),
		provider.WithFailureThreshold(cfg.Settings.FailureThreshold),
		provider.WithProberMetrics(o.metrics),
		provider.WithProbeClient(o.probeClient),
	}
	if o.check != nil {
		proberOpts = append(proberOpts, provider.WithCheckFunc(o.check))
	}

	policy := routingPolicy(cfg.Routing)

	return &Balancer{
		cfg:      cfg,
		registry: reg,
		prober:   provider.NewProber(reg, proberOpts...),
		engine:   dispatch.New(reg, policy, dispatch.WithHTTPClient(o.client), dispatch.WithMetrics(o.metrics)),
		metrics:  o.metrics,
	}, nil
}

// routingPolicy builds the method classification from cfg. A nil list means
// the field was never set and takes the built-in default; an explicit empty
// list disables that class.
func routingPolicy(cfg config.RoutingConfig) router.Policy {
	broadcast := cfg.BroadcastMethods
	if broadcast == nil {
		broadcast = router.DefaultBroadcastMethods
	}
	latency := cfg.LatencyMethods
	if latency == nil {
		latency = router.DefaultLatencyMethods
	}
	return router.NewPolicy(broadcast, latency)
}

// Start launches the health prober in the background. It stops when ctx is
// cancelled; Wait blocks until then.
func (b *Balancer) Start(ctx context.Context) {
	b.wg.Go(func() {
		_ = b.prober.Run(ctx)
	})
}

// Wait blocks until the background prober has exited.
func (b *Balancer) Wait() {
	b.wg.Wait()
}

// ProbeOnce runs a single probe cycle synchronously.
func (b *Balancer) ProbeOnce(ctx context.Context) {
	b.prober.Cycle(ctx)
}

func (b *Balancer) Config() *config.Config { return b.cfg }

func (b *Balancer) Registry() *provider.Registry { return b.registry }

func (b *Balancer) Metrics() *metrics.Metrics { return b.metrics }

func (b *Balancer) Policy() router.Policy { return b.engine.Policy() }

type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      int             `json:"id"`
}

// Envelope builds a JSON-RPC 2.0 request with id 1. Nil params encode as [].
func Envelope(method string, params json.RawMessage) ([]byte, error) {
	if len(params) == 0 {
		params = json.RawMessage("[]")
	}
	body, err := json.Marshal(envelope{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeDispatchInvalidRequest,
			"encoding request", sigilerr.FieldMethod(method))
	}
	return body, nil
}

func (b *Balancer) run(ctx context.Context, strategy dispatch.Strategy, method string, params json.RawMessage) (dispatch.Result, error) {
	body, err := Envelope(method, params)
	if err != nil {
		return dispatch.Result{}, err
	}
	return b.engine.Dispatch(ctx, strategy, method, body)
}

// Request sends method to the single provider the router picks.
func (b *Balancer) Request(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	res, err := b.run(ctx, dispatch.StrategySingle, method, params)
	return res.Body, err
}

// Broadcast sends method to every healthy provider and returns the freshest
// answer.
func (b *Balancer) Broadcast(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	res, err := b.run(ctx, dispatch.StrategyBroadcast, method, params)
	return res.Body, err
}

// Failover tries eligible providers in score order.
func (b *Balancer) Failover(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	res, err := b.run(ctx, dispatch.StrategyFailover, method, params)
	return res.Body, err
}

// Race returns the first successful answer among healthy providers.
func (b *Balancer) Race(ctx context.Context, method string, params json.RawMessage) (dispatch.Result, error) {
	return b.run(ctx, dispatch.StrategyRace, method, params)
}

// Retry walks the routed candidates until one succeeds.
func (b *Balancer) Retry(ctx context.Context, method string, params json.RawMessage) (dispatch.Result, error) {
	return b.run(ctx, dispatch.StrategyRetry, method, params)
}

// Proxy forwards a raw JSON-RPC body using method-based strategy selection.
func (b *Balancer) Proxy(ctx context.Context, body []byte) (dispatch.Result, error) {
	return b.engine.Proxy(ctx, body)
}

// Dispatch forwards a raw JSON-RPC body with an explicit strategy.
func (b *Balancer) Dispatch(ctx context.Context, strategy dispatch.Strategy, body []byte) (dispatch.Result, error) {
	return b.engine.Dispatch(ctx, strategy, dispatch.Method(body), body)
}

// Stats returns the full per-provider snapshot in configuration order.
// Unmeasured providers report the maximum score.
func (b *Balancer) Stats() health.Stats {
	return health.Stats{
		Providers: lo.Map(b.registry.Snapshot(), func(s provider.State, _ int) health.ProviderStats {
			return health.ProviderStats{
				Name:           s.Name,
				Healthy:        s.Healthy,
				AverageLatency: s.AverageLatency,
				ErrorCount:     s.ErrorCount,
				CoolOff:        s.CoolOff,
				Weight:         s.Weight,
				Score:          provider.Score(s),
			}
		}),
	}
}

// Health returns the compact per-provider view. Unmeasured providers report
// a score of 0.
func (b *Balancer) Health() []health.ProviderHealth {
	return lo.Map(b.registry.Snapshot(), func(s provider.State, _ int) health.ProviderHealth {
		var score uint64
		if s.AverageLatency != 0 {
			score = provider.Score(s)
		}
		return health.ProviderHealth{
			Name:    s.Name,
			Healthy: s.Healthy,
			Latency: s.AverageLatency,
			Score:   score,
		}
	})
}
