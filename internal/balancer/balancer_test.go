// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package balancer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sigil-dev/rpcrouter/internal/balancer"
	"github.com/sigil-dev/rpcrouter/internal/config"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/router"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// echoBackend answers every call with the method it received and its own
// name, recording the last request body.
func echoBackend(t *testing.T, name string) (*httptest.Server, *atomic.Value) {
	t.Helper()
	var last atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		last.Store(string(body))
		method := gjson.GetBytes(body, "method").String()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"jsonrpc":"2.0","result":{"method":"`+method+`","from":"`+name+`"},"id":1}`)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func testConfig(urls ...string) *config.Config {
	cfg := &config.Config{
		Settings: config.SettingsConfig{
			Port:             3000,
			ProbeInterval:    time.Hour,
			ProbeTimeout:     time.Second,
			RequestTimeout:   2 * time.Second,
			FailureThreshold: 3,
		},
	}
	names := []string{"alpha", "beta", "gamma"}
	for i, u := range urls {
		cfg.Providers = append(cfg.Providers, config.ProviderConfig{Name: names[i], URL: u, Weight: 1})
	}
	return cfg
}

func TestNew_RequiresConfig(t *testing.T) {
	_, err := balancer.New(nil)
	require.Error(t, err)
}

func TestNew_RejectsBadProviders(t *testing.T) {
	cfg := testConfig("http://a", "http://b")
	cfg.Providers[1].Name = cfg.Providers[0].Name

	_, err := balancer.New(cfg)
	require.Error(t, err)
	assert.True(t, sigilerr.IsConflict(err))
}

func TestNew_RoutingPolicy(t *testing.T) {
	tests := []struct {
		name    string
		routing config.RoutingConfig
		method  string
		want    router.MethodClass
	}{
		{name: "unset broadcast uses default", method: "sendTransaction", want: router.ClassBroadcast},
		{name: "unset latency uses default", method: "getAccountInfo", want: router.ClassLatency},
		{name: "other methods score", method: "getBalance", want: router.ClassScore},
		{
			name:    "configured list replaces default",
			routing: config.RoutingConfig{BroadcastMethods: []string{"getSlot"}},
			method:  "sendTransaction",
			want:    router.ClassScore,
		},
		{
			name:    "configured list applies",
			routing: config.RoutingConfig{BroadcastMethods: []string{"getSlot"}},
			method:  "getSlot",
			want:    router.ClassBroadcast,
		},
		{
			name:    "empty list disables class",
			routing: config.RoutingConfig{LatencyMethods: []string{}},
			method:  "getAccountInfo",
			want:    router.ClassScore,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://a")
			cfg.Routing = tt.routing

			bal, err := balancer.New(cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, bal.Policy().Class(tt.method))
		})
	}
}

func TestEnvelope(t *testing.T) {
	body, err := balancer.Envelope("getBalance", json.RawMessage(`["addr"]`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"getBalance","params":["addr"],"id":1}`, string(body))

	body, err = balancer.Envelope("getSlot", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"getSlot","params":[],"id":1}`, string(body))

	_, err = balancer.Envelope("x", json.RawMessage(`{bad`))
	require.Error(t, err)
}

func TestStrategies(t *testing.T) {
	a, lastA := echoBackend(t, "alpha")
	b, _ := echoBackend(t, "beta")

	bal, err := balancer.New(testConfig(a.URL, b.URL))
	require.NoError(t, err)
	bal.Registry().Update("alpha", func(s *provider.State) { s.RecordSuccess(20) })
	bal.Registry().Update("beta", func(s *provider.State) { s.RecordSuccess(200) })

	ctx := context.Background()

	out, err := bal.Request(ctx, "getBalance", json.RawMessage(`["addr"]`))
	require.NoError(t, err)
	assert.Equal(t, "alpha", gjson.GetBytes(out, "result.from").String())
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"getBalance","params":["addr"],"id":1}`, lastA.Load().(string))

	out, err = bal.Broadcast(ctx, "getLatestBlockhash", nil)
	require.NoError(t, err)
	assert.Equal(t, "getLatestBlockhash", gjson.GetBytes(out, "result.method").String())

	out, err = bal.Failover(ctx, "getSlot", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", gjson.GetBytes(out, "result.from").String())

	res, err := bal.Race(ctx, "getSlot", nil)
	require.NoError(t, err)
	assert.Contains(t, []string{"alpha", "beta"}, res.Provider)

	res, err = bal.Retry(ctx, "getSlot", nil)
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Provider)

	res, err = bal.Proxy(ctx, []byte(`{"jsonrpc":"2.0","method":"sendTransaction","params":["tx"],"id":7}`))
	require.NoError(t, err)
	assert.Equal(t, "broadcast", res.Provider)
}

func TestRequest_NoHealthyProviders(t *testing.T) {
	a, _ := echoBackend(t, "alpha")
	bal, err := balancer.New(testConfig(a.URL),
		balancer.WithCheckFunc(func(context.Context, provider.Provider) error { return errors.New("down") }))
	require.NoError(t, err)

	for range 3 {
		bal.ProbeOnce(context.Background())
	}

	_, err = bal.Request(context.Background(), "getBalance", nil)
	require.Error(t, err)
	assert.True(t, sigilerr.IsUnavailable(err))
	assert.Contains(t, err.Error(), "no healthy providers")
}

func TestStatsAndHealth(t *testing.T) {
	a, _ := echoBackend(t, "alpha")
	b, _ := echoBackend(t, "beta")
	cfg := testConfig(a.URL, b.URL)
	cfg.Providers[0].Weight = 2

	bal, err := balancer.New(cfg)
	require.NoError(t, err)
	bal.Registry().Update("alpha", func(s *provider.State) { s.RecordSuccess(100) })

	stats := bal.Stats()
	require.Len(t, stats.Providers, 2)
	assert.Equal(t, "alpha", stats.Providers[0].Name)
	assert.Equal(t, uint64(100), stats.Providers[0].AverageLatency)
	assert.Equal(t, uint64(50), stats.Providers[0].Score)
	assert.Equal(t, uint64(2), stats.Providers[0].Weight)
	assert.Equal(t, uint64(math.MaxUint64), stats.Providers[1].Score, "unmeasured scores the maximum")
	assert.Equal(t, 2, stats.Healthy())

	raw, err := json.Marshal(stats)
	require.NoError(t, err)
	for _, key := range []string{"name", "healthy", "latency", "errors", "cooloff", "weight", "score"} {
		assert.True(t, gjson.GetBytes(raw, "providers.0."+key).Exists(), key)
	}

	h := bal.Health()
	require.Len(t, h, 2)
	assert.Equal(t, uint64(50), h[0].Score)
	assert.Zero(t, h[1].Score, "unmeasured reports zero in the compact view")
}

func TestStartProbesUntilCancelled(t *testing.T) {
	var calls atomic.Int64
	bal, err := balancer.New(testConfig("http://alpha.invalid"),
		balancer.WithCheckFunc(func(context.Context, provider.Provider) error {
			calls.Add(1)
			return nil
		}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	bal.Start(ctx)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	done := make(chan struct{})
	go func() {
		bal.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}

	s, _ := bal.Registry().Get("alpha")
	assert.NotZero(t, s.AverageLatency)
}
