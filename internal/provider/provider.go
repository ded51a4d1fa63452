// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import "math"

// DefaultFailureThreshold is the number of consecutive failed probes after
// which a provider enters cool-off.
const DefaultFailureThreshold = 3

// Provider is a configured backend JSON-RPC endpoint. It is immutable once
// loaded.
type Provider struct {
	Name   string
	URL    string
	Weight uint64
	// MaxRPS caps outbound requests per second to this provider. Zero means
	// unlimited.
	MaxRPS float64
}

// State is the mutable health record of one provider. Values returned by the
// Registry are copies; mutate through Registry.Update.
type State struct {
	Provider

	Healthy bool
	// CoolOff is set together with Healthy=false after repeated failures and
	// is only cleared by a later success.
	CoolOff bool
	// AverageLatency is in milliseconds. Zero means never measured.
	AverageLatency uint64
	// ErrorCount counts consecutive failures and resets on success.
	ErrorCount int64
}

// NewState returns the initial state for p: healthy, unmeasured, no errors.
func NewState(p Provider) State {
	return State{Provider: p, Healthy: true}
}

// Eligible reports whether the provider may be picked by single-target
// routing policies.
func (s State) Eligible() bool {
	return s.Healthy && !s.CoolOff
}

// RecordSuccess applies a successful observation with the given latency in
// milliseconds.
func (s *State) RecordSuccess(latencyMs uint64) {
	s.Healthy = true
	s.ErrorCount = 0
	s.CoolOff = false
	s.AverageLatency = NextAverage(s.AverageLatency, latencyMs)
}

// RecordFailure applies a failed observation. It reports whether this failure
// moved the provider into cool-off.
func (s *State) RecordFailure(threshold int64) bool {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	s.ErrorCount++
	if s.ErrorCount < threshold {
		return false
	}
	entered := !s.CoolOff
	s.Healthy = false
	s.CoolOff = true
	return entered
}

// NextAverage folds sample into the moving average old with weight 0.8 on the
// prior value. The first measurement replaces the unmeasured sentinel.
func NextAverage(old, sample uint64) uint64 {
	if old == 0 {
		return sample
	}
	return (old*4 + sample) / 5
}

// Score is latency normalized by weight; lower is better. Unmeasured
// providers score math.MaxUint64 so they sort after every measured one.
func Score(s State) uint64 {
	if s.AverageLatency == 0 {
		return math.MaxUint64
	}
	w := s.Weight
	if w == 0 {
		w = 1
	}
	return s.AverageLatency / w
}
