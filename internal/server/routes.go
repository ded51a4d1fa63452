// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/sigil-dev/rpcrouter/pkg/health"
)

// Overall status values reported by GET /health.
const (
	StatusOK          = "ok"
	StatusDegraded    = "degraded"
	StatusUnavailable = "unavailable"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Per-provider health, latency and score",
		Tags:        []string{"system"},
	}, s.handleStats)

	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"system"},
	}, s.handleHealth)
}

type statsOutput struct {
	Body health.Stats
}

func (s *Server) handleStats(_ context.Context, _ *struct{}) (*statsOutput, error) {
	return &statsOutput{Body: s.gateway.Stats()}, nil
}

// HealthBody is the JSON body of the health endpoint response.
type HealthBody struct {
	Status    string                  `json:"status" example:"ok" doc:"ok, degraded or unavailable"`
	Healthy   int                     `json:"healthy" doc:"Providers currently healthy"`
	Total     int                     `json:"total" doc:"Configured providers"`
	Providers []health.ProviderHealth `json:"providers"`
}

// HealthResponse wraps the health check response. Status is 503 when no
// provider is healthy.
type HealthResponse struct {
	Status int
	Body   HealthBody
}

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*HealthResponse, error) {
	providers := s.gateway.Health()

	healthy := 0
	for _, p := range providers {
		if p.Healthy {
			healthy++
		}
	}

	out := &HealthResponse{
		Status: http.StatusOK,
		Body: HealthBody{
			Status:    StatusOK,
			Healthy:   healthy,
			Total:     len(providers),
			Providers: providers,
		},
	}
	switch {
	case healthy == 0:
		out.Status = http.StatusServiceUnavailable
		out.Body.Status = StatusUnavailable
	case healthy < len(providers):
		out.Body.Status = StatusDegraded
	}
	return out, nil
}
