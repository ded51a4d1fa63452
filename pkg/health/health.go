// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package health

// ProviderStats exposes the current health state of one provider for
// monitoring and operator visibility. All fields are point-in-time
// snapshots safe to serialize to JSON.
type ProviderStats struct {
	Name           string `json:"name" yaml:"name"`
	Healthy        bool   `json:"healthy" yaml:"healthy"`
	AverageLatency uint64 `json:"latency" yaml:"latency"`
	ErrorCount     int64  `json:"errors" yaml:"errors"`
	CoolOff        bool   `json:"cooloff" yaml:"cooloff"`
	Weight         uint64 `json:"weight" yaml:"weight"`
	Score          uint64 `json:"score" yaml:"score"`
}

// Stats is the full registry snapshot served by the stats endpoint.
type Stats struct {
	Providers []ProviderStats `json:"providers" yaml:"providers"`
}

// ProviderHealth is the compact per-provider view. Score is 0 when the
// provider has never been measured.
type ProviderHealth struct {
	Name    string `json:"name" yaml:"name"`
	Healthy bool   `json:"healthy" yaml:"healthy"`
	Latency uint64 `json:"latency" yaml:"latency"`
	Score   uint64 `json:"score" yaml:"score"`
}

// Healthy counts providers currently eligible for routing.
func (s Stats) Healthy() int {
	n := 0
	for _, p := range s.Providers {
		if p.Healthy {
			n++
		}
	}
	return n
}
