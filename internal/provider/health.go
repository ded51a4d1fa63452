// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sigil-dev/rpcrouter/internal/metrics"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
)

const (
	// DefaultProbeInterval is the pause between probe cycles.
	DefaultProbeInterval = 5 * time.Second
	// DefaultProbeTimeout bounds a single getHealth call.
	DefaultProbeTimeout = 3 * time.Second
)

// ProbePayload is the JSON-RPC liveness call sent to every provider.
var ProbePayload = []byte(`{"jsonrpc":"2.0","method":"getHealth","params":[],"id":1}`)

// CheckFunc performs one liveness call against p and returns nil when the
// provider answered successfully.
type CheckFunc func(ctx context.Context, p Provider) error

// Prober periodically probes every provider and records the outcome in the
// Registry. It is the only writer of provider health.
type Prober struct {
	registry  *Registry
	client    *http.Client
	check     CheckFunc
	metrics   *metrics.Metrics
	interval  time.Duration
	timeout   time.Duration
	threshold int64
	nowFunc   func() time.Time
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithInterval sets the pause between cycles.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithProbeTimeout bounds each probe call.
func WithProbeTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithFailureThreshold sets how many consecutive failures trigger cool-off.
func WithFailureThreshold(n int64) ProberOption {
	return func(p *Prober) {
		if n > 0 {
			p.threshold = n
		}
	}
}

// WithProbeClient sets the HTTP client used by the default check.
func WithProbeClient(c *http.Client) ProberOption {
	return func(p *Prober) {
		if c != nil {
			p.client = c
		}
	}
}

// WithCheckFunc replaces the HTTP getHealth check (for testing).
func WithCheckFunc(fn CheckFunc) ProberOption {
	return func(p *Prober) { p.check = fn }
}

// WithProberMetrics records probe outcomes.
func WithProberMetrics(m *metrics.Metrics) ProberOption {
	return func(p *Prober) { p.metrics = m }
}

// WithNowFunc overrides the clock used to measure latency (for testing).
func WithNowFunc(fn func() time.Time) ProberOption {
	return func(p *Prober) { p.nowFunc = fn }
}

// NewProber creates a Prober over reg.
func NewProber(reg *Registry, opts ...ProberOption) *Prober {
	p := &Prober{
		registry:  reg,
		client:    &http.Client{},
		interval:  DefaultProbeInterval,
		timeout:   DefaultProbeTimeout,
		threshold: DefaultFailureThreshold,
		nowFunc:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.check == nil {
		p.check = p.httpCheck
	}
	return p
}

// Run probes all providers immediately and then once per interval until ctx
// is cancelled. Probe failures never stop the loop.
func (p *Prober) Run(ctx context.Context) error {
	slog.Info("health prober started", "interval", p.interval, "providers", p.registry.Len())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("health prober stopped")
			return nil
		case <-ticker.C:
			p.Cycle(ctx)
		}
	}
}

// Cycle probes every provider once, sequentially in configuration order.
func (p *Prober) Cycle(ctx context.Context) {
	for _, prov := range p.registry.Providers() {
		if ctx.Err() != nil {
			return
		}
		p.probe(ctx, prov)
	}
}

func (p *Prober) probe(ctx context.Context, prov Provider) {
	start := p.nowFunc()
	err := p.safeCheck(ctx, prov)
	elapsed := p.nowFunc().Sub(start)

	masked := MaskURL(prov.URL)
	if err == nil {
		latency := uint64(max(elapsed.Milliseconds(), 1))
		st, _ := p.registry.Update(prov.Name, func(s *State) { s.RecordSuccess(latency) })
		p.metrics.ObserveProbe(prov.Name, true, elapsed, st.Healthy, st.CoolOff)
		slog.Info("provider healthy",
			"provider", prov.Name,
			"latency_ms", latency,
			"avg_latency_ms", st.AverageLatency,
			"url", masked)
		return
	}

	var entered bool
	st, _ := p.registry.Update(prov.Name, func(s *State) { entered = s.RecordFailure(p.threshold) })
	p.metrics.ObserveProbe(prov.Name, false, elapsed, st.Healthy, st.CoolOff)
	slog.Warn("provider unhealthy",
		"provider", prov.Name,
		"errors", st.ErrorCount,
		"url", masked,
		"error", err)
	if entered {
		slog.Warn("provider entered cool-off, will retry next cycle",
			"provider", prov.Name,
			"errors", st.ErrorCount)
	}
}

// safeCheck runs the check with a bounded context and turns a panic into a
// failed probe.
func (p *Prober) safeCheck(ctx context.Context, prov Provider) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = sigilerr.Errorf(sigilerr.CodeProviderProbeFailure, "probe panicked: %v", r)
		}
	}()

	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.check(checkCtx, prov)
}

func (p *Prober) httpCheck(ctx context.Context, prov Provider) error {
	return Probe(ctx, p.client, prov.URL)
}

// Probe sends the getHealth call to url and returns nil for a 2xx answer.
func Probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(ProbePayload))
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeProviderRequestInvalid, "building probe: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeProviderProbeFailure, "probe request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return sigilerr.New(sigilerr.CodeProviderProbeFailure,
			fmt.Sprintf("probe returned status %d", resp.StatusCode))
	}
	return nil
}
