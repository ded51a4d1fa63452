// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package metrics holds the Prometheus collectors for provider probes and
// request dispatch. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "rpcrouter"

// Metrics holds all Prometheus collectors for the router.
type Metrics struct {
	registry *prometheus.Registry

	ProbeLatency    *prometheus.HistogramVec
	ProbeFailures   *prometheus.CounterVec
	ProviderHealthy *prometheus.GaugeVec
	ProviderCoolOff *prometheus.GaugeVec

	DispatchTotal   *prometheus.CounterVec
	BackendRequests *prometheus.CounterVec
	BackendLatency  *prometheus.HistogramVec
}

// New creates a Metrics instance on its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ProbeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "probe_latency_seconds",
			Help:      "Latency of successful getHealth probes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		ProbeFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probe_failures_total",
			Help:      "Failed getHealth probes",
		}, []string{"provider"}),
		ProviderHealthy: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_healthy",
			Help:      "1 when the provider is eligible for routing",
		}, []string{"provider"}),
		ProviderCoolOff: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "provider_cooloff",
			Help:      "1 while the provider is in cool-off",
		}, []string{"provider"}),
		DispatchTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_total",
			Help:      "Dispatched requests by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Outbound calls to providers by result",
		}, []string{"provider", "result"}),
		BackendLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Latency of outbound provider calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
	}
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveProbe records one probe outcome and the provider state that resulted.
func (m *Metrics) ObserveProbe(provider string, ok bool, latency time.Duration, healthy, coolOff bool) {
	if m == nil {
		return
	}
	if ok {
		m.ProbeLatency.WithLabelValues(provider).Observe(latency.Seconds())
	} else {
		m.ProbeFailures.WithLabelValues(provider).Inc()
	}
	m.ProviderHealthy.WithLabelValues(provider).Set(boolGauge(healthy))
	m.ProviderCoolOff.WithLabelValues(provider).Set(boolGauge(coolOff))
}

// ObserveBackend records one outbound call.
func (m *Metrics) ObserveBackend(provider string, ok bool, latency time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.BackendRequests.WithLabelValues(provider, result).Inc()
	m.BackendLatency.WithLabelValues(provider).Observe(latency.Seconds())
}

// ObserveDispatch records the final outcome of one dispatch.
func (m *Metrics) ObserveDispatch(strategy, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(strategy, outcome).Inc()
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
