// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sigil-dev/rpcrouter/internal/metrics"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock advances by step on every call so each probe measures
// exactly step of latency.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	reg, err := provider.NewRegistry(testProviders())
	require.NoError(t, err)
	return reg
}

func TestProber_SuccessRecordsLatency(t *testing.T) {
	reg := newTestRegistry(t)
	clock := &steppingClock{now: time.Unix(0, 0), step: 100 * time.Millisecond}

	p := provider.NewProber(reg,
		provider.WithCheckFunc(func(context.Context, provider.Provider) error { return nil }),
		provider.WithNowFunc(clock.Now),
	)
	p.Cycle(context.Background())

	for _, s := range reg.Snapshot() {
		assert.True(t, s.Healthy, s.Name)
		assert.Equal(t, uint64(100), s.AverageLatency, s.Name)
	}

	clock.step = 200 * time.Millisecond
	p.Cycle(context.Background())

	s, _ := reg.Get("helius")
	assert.Equal(t, uint64(120), s.AverageLatency, "(4*100+200)/5")
}

func TestProber_SubMillisecondIsStillMeasured(t *testing.T) {
	reg := newTestRegistry(t)
	fixed := time.Unix(0, 0)

	p := provider.NewProber(reg,
		provider.WithCheckFunc(func(context.Context, provider.Provider) error { return nil }),
		provider.WithNowFunc(func() time.Time { return fixed }),
	)
	p.Cycle(context.Background())

	s, _ := reg.Get("triton")
	assert.Equal(t, uint64(1), s.AverageLatency)
}

func TestProber_CoolOffAfterThreshold(t *testing.T) {
	reg := newTestRegistry(t)
	var failing atomic.Bool
	failing.Store(true)

	p := provider.NewProber(reg,
		provider.WithCheckFunc(func(_ context.Context, prov provider.Provider) error {
			if prov.Name == "triton" && failing.Load() {
				return errors.New("connection refused")
			}
			return nil
		}),
	)

	ctx := context.Background()
	p.Cycle(ctx)
	p.Cycle(ctx)
	s, _ := reg.Get("triton")
	assert.True(t, s.Healthy, "two failures stay below the threshold")
	assert.Equal(t, int64(2), s.ErrorCount)

	p.Cycle(ctx)
	s, _ = reg.Get("triton")
	assert.False(t, s.Healthy)
	assert.True(t, s.CoolOff)
	assert.Equal(t, int64(3), s.ErrorCount)

	other, _ := reg.Get("helius")
	assert.True(t, other.Eligible(), "failures are tracked per provider")

	failing.Store(false)
	p.Cycle(ctx)
	s, _ = reg.Get("triton")
	assert.True(t, s.Healthy)
	assert.False(t, s.CoolOff)
	assert.Zero(t, s.ErrorCount)
}

func TestProber_CustomThreshold(t *testing.T) {
	reg := newTestRegistry(t)
	p := provider.NewProber(reg,
		provider.WithFailureThreshold(1),
		provider.WithCheckFunc(func(context.Context, provider.Provider) error { return errors.New("down") }),
	)
	p.Cycle(context.Background())

	for _, s := range reg.Snapshot() {
		assert.True(t, s.CoolOff, s.Name)
	}
}

func TestProber_PanicIsAFailure(t *testing.T) {
	reg := newTestRegistry(t)
	p := provider.NewProber(reg,
		provider.WithCheckFunc(func(_ context.Context, prov provider.Provider) error {
			if prov.Name == "helius" {
				panic("boom")
			}
			return nil
		}),
	)

	require.NotPanics(t, func() { p.Cycle(context.Background()) })

	s, _ := reg.Get("helius")
	assert.Equal(t, int64(1), s.ErrorCount)
	s, _ = reg.Get("public")
	assert.Zero(t, s.ErrorCount, "later providers are still probed")
}

func TestProber_SequentialInConfigOrder(t *testing.T) {
	reg := newTestRegistry(t)
	var (
		mu    sync.Mutex
		order []string
	)
	p := provider.NewProber(reg,
		provider.WithCheckFunc(func(_ context.Context, prov provider.Provider) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, prov.Name)
			return nil
		}),
	)
	p.Cycle(context.Background())

	assert.Equal(t, []string{"helius", "triton", "public"}, order)
}

func TestProber_RecordsMetrics(t *testing.T) {
	reg := newTestRegistry(t)
	m := metrics.New()
	p := provider.NewProber(reg,
		provider.WithProberMetrics(m),
		provider.WithFailureThreshold(1),
		provider.WithCheckFunc(func(_ context.Context, prov provider.Provider) error {
			if prov.Name == "public" {
				return errors.New("down")
			}
			return nil
		}),
	)
	p.Cycle(context.Background())

	assert.InDelta(t, 1, testutil.ToFloat64(m.ProbeFailures.WithLabelValues("public")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderCoolOff.WithLabelValues("public")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ProviderHealthy.WithLabelValues("helius")), 0)
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	reg := newTestRegistry(t)
	var calls atomic.Int64
	p := provider.NewProber(reg,
		provider.WithInterval(10*time.Millisecond),
		provider.WithCheckFunc(func(context.Context, provider.Provider) error {
			calls.Add(1)
			return nil
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return calls.Load() >= 6 }, time.Second, 5*time.Millisecond,
		"an immediate cycle plus at least one ticked cycle")
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestProbe_HTTP(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr bool
	}{
		{name: "ok", status: http.StatusOK},
		{name: "server error", status: http.StatusInternalServerError, wantErr: true},
		{name: "rate limited", status: http.StatusTooManyRequests, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				body, _ := io.ReadAll(r.Body)
				assert.JSONEq(t, string(provider.ProbePayload), string(body))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":"ok","id":1}`))
			}))
			defer srv.Close()

			err := provider.Probe(context.Background(), srv.Client(), srv.URL)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestProbe_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := provider.Probe(context.Background(), http.DefaultClient, url)
	assert.Error(t, err)
}

func TestProber_TimeoutCountsAsFailure(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	reg, err := provider.NewRegistry([]provider.Provider{{Name: "slow", URL: srv.URL, Weight: 1}})
	require.NoError(t, err)

	p := provider.NewProber(reg, provider.WithProbeTimeout(20*time.Millisecond))
	p.Cycle(context.Background())

	s, _ := reg.Get("slow")
	assert.Equal(t, int64(1), s.ErrorCount)
}
