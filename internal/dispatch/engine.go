// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package dispatch executes JSON-RPC requests against the providers chosen by
// the router, using one of several fan-out or fallback strategies.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/sigil-dev/rpcrouter/internal/metrics"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/router"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// DefaultRequestTimeout bounds every outbound provider call.
const DefaultRequestTimeout = 10 * time.Second

// maxResponseBytes caps a single provider response.
const maxResponseBytes = 32 << 20

// BroadcastAttribution is reported as the serving provider for broadcast
// results.
const BroadcastAttribution = "broadcast"

// Strategy names a dispatch strategy.
type Strategy string

const (
	StrategySingle    Strategy = "request"
	StrategyRetry     Strategy = "retry"
	StrategyBroadcast Strategy = "broadcast"
	StrategyRace      Strategy = "race"
	StrategyFailover  Strategy = "failover"
)

// ParseStrategy maps a strategy name to a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case StrategySingle, StrategyRetry, StrategyBroadcast, StrategyRace, StrategyFailover:
		return st, nil
	default:
		return "", sigilerr.New(sigilerr.CodeDispatchInvalidRequest,
			"unknown strategy: "+s, sigilerr.FieldStrategy(s))
	}
}

// Result is a successful dispatch.
type Result struct {
	Body     []byte
	Provider string
	Strategy Strategy
}

// Engine runs dispatch strategies. It reads provider health from the
// registry but never writes it.
type Engine struct {
	registry *provider.Registry
	policy   router.Policy
	client   *http.Client
	metrics  *metrics.Metrics
	limiters map[string]*rate.Limiter
}

// Option configures an Engine.
type Option func(*Engine)

// WithHTTPClient sets the client used for provider calls.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		if c != nil {
			e.client = c
		}
	}
}

// WithMetrics records dispatch and backend metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an Engine. Providers with a positive MaxRPS get an outbound
// token-bucket limiter.
func New(reg *provider.Registry, policy router.Policy, opts ...Option) *Engine {
	e := &Engine{
		registry: reg,
		policy:   policy,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
		limiters: make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, p := range reg.Providers() {
		if p.MaxRPS > 0 {
			burst := max(1, int(math.Ceil(p.MaxRPS)))
			e.limiters[p.Name] = rate.NewLimiter(rate.Limit(p.MaxRPS), burst)
		}
	}
	return e
}

// Policy returns the routing policy in use.
func (e *Engine) Policy() router.Policy {
	return e.policy
}

// Proxy is the default entry point for raw JSON-RPC bodies: broadcast-class
// methods are broadcast, everything else goes through the retry chain.
func (e *Engine) Proxy(ctx context.Context, body []byte) (Result, error) {
	method := Method(body)
	slog.Debug("routing request", "method", method)

	if e.policy.Class(method) == router.ClassBroadcast {
		return e.Broadcast(ctx, body)
	}
	return e.Retry(ctx, method, body)
}

// Dispatch runs the named strategy.
func (e *Engine) Dispatch(ctx context.Context, strategy Strategy, method string, body []byte) (Result, error) {
	switch strategy {
	case StrategySingle:
		return e.Single(ctx, method, body)
	case StrategyRetry:
		return e.Retry(ctx, method, body)
	case StrategyBroadcast:
		return e.Broadcast(ctx, body)
	case StrategyRace:
		return e.Race(ctx, method, body)
	case StrategyFailover:
		return e.Failover(ctx, body)
	default:
		return Result{}, sigilerr.New(sigilerr.CodeDispatchInvalidRequest,
			"unknown strategy: "+string(strategy), sigilerr.FieldStrategy(string(strategy)))
	}
}

// Method extracts the JSON-RPC method name from body, or "" when absent.
func Method(body []byte) string {
	return gjson.GetBytes(body, "method").String()
}

// Slot reads result.context.slot from a response body; zero when absent.
func Slot(body []byte) uint64 {
	return gjson.GetBytes(body, "result.context.slot").Uint()
}

// call performs one outbound request. A call succeeds on a 2xx status with a
// valid JSON body.
func (e *Engine) call(ctx context.Context, p provider.State, body []byte) ([]byte, error) {
	if lim, ok := e.limiters[p.Name]; ok {
		if err := lim.Wait(ctx); err != nil {
			return nil, sigilerr.Wrap(err, sigilerr.CodeDispatchRateLimited,
				"waiting for provider rate limit", sigilerr.FieldProvider(p.Name))
		}
	}

	start := time.Now()
	out, err := e.post(ctx, p, body)
	e.metrics.ObserveBackend(p.Name, err == nil, time.Since(start))
	return out, err
}

func (e *Engine) post(ctx context.Context, p provider.State, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeDispatchUpstream,
			"building request", sigilerr.FieldProvider(p.Name))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeDispatchUpstream,
			"provider request", sigilerr.FieldProvider(p.Name))
	}
	defer func() { _ = resp.Body.Close() }()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, sigilerr.Wrap(err, sigilerr.CodeDispatchUpstream,
			"reading provider response", sigilerr.FieldProvider(p.Name))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, sigilerr.New(sigilerr.CodeDispatchUpstream,
			fmt.Sprintf("provider returned status %d", resp.StatusCode), sigilerr.FieldProvider(p.Name))
	}
	if !gjson.ValidBytes(out) {
		return nil, sigilerr.New(sigilerr.CodeDispatchUpstream,
			"provider returned invalid JSON", sigilerr.FieldProvider(p.Name))
	}
	return out, nil
}

func (e *Engine) noCandidates(strategy Strategy, method string) error {
	e.metrics.ObserveDispatch(string(strategy), "unavailable")
	return sigilerr.New(sigilerr.CodeDispatchNoCandidates, "no healthy providers",
		sigilerr.FieldStrategy(string(strategy)), sigilerr.FieldMethod(method))
}

// allFailed does not wrap last so the exhausted code stays outermost and
// deepest in the chain.
func (e *Engine) allFailed(strategy Strategy, method string, last error) error {
	e.metrics.ObserveDispatch(string(strategy), "exhausted")
	fields := []sigilerr.Attr{sigilerr.FieldStrategy(string(strategy)), sigilerr.FieldMethod(method)}
	if last != nil {
		fields = append(fields, sigilerr.Field("last_error", last.Error()))
	}
	return sigilerr.New(sigilerr.CodeDispatchAllFailed, "all providers failed", fields...)
}

func (e *Engine) succeeded(strategy Strategy, body []byte, name string) Result {
	e.metrics.ObserveDispatch(string(strategy), "success")
	return Result{Body: body, Provider: name, Strategy: strategy}
}
