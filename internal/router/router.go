// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package router picks providers for a JSON-RPC method from a snapshot of
// provider health.
package router

import (
	"cmp"
	"slices"

	"github.com/samber/lo"
	"github.com/sigil-dev/rpcrouter/internal/provider"
)

// MethodClass is the routing class of a JSON-RPC method.
type MethodClass int

const (
	// ClassScore routes to the single best-scored provider.
	ClassScore MethodClass = iota
	// ClassLatency routes to the provider with the lowest raw latency.
	ClassLatency
	// ClassBroadcast fans out to every healthy provider.
	ClassBroadcast
)

func (c MethodClass) String() string {
	switch c {
	case ClassBroadcast:
		return "broadcast"
	case ClassLatency:
		return "latency"
	default:
		return "score"
	}
}

// Default method sets.
var (
	DefaultBroadcastMethods = []string{"getLatestBlockhash", "sendTransaction"}
	DefaultLatencyMethods   = []string{"getAccountInfo"}
)

// Policy maps method names to routing classes. Matching is exact and
// case-sensitive. The zero value routes every method by score.
type Policy struct {
	broadcast map[string]struct{}
	latency   map[string]struct{}
}

// DefaultPolicy returns the built-in method classification.
func DefaultPolicy() Policy {
	return NewPolicy(DefaultBroadcastMethods, DefaultLatencyMethods)
}

// NewPolicy builds a Policy from explicit method lists. A method listed in
// both sets is broadcast.
func NewPolicy(broadcast, latency []string) Policy {
	return Policy{
		broadcast: toSet(broadcast),
		latency:   toSet(latency),
	}
}

func toSet(methods []string) map[string]struct{} {
	return lo.SliceToMap(methods, func(m string) (string, struct{}) { return m, struct{}{} })
}

// Class returns the routing class of method.
func (p Policy) Class(method string) MethodClass {
	if _, ok := p.broadcast[method]; ok {
		return ClassBroadcast
	}
	if _, ok := p.latency[method]; ok {
		return ClassLatency
	}
	return ClassScore
}

// Select returns the candidates for method from states, in dispatch order.
// An empty result means no provider is eligible.
func (p Policy) Select(states []provider.State, method string) []provider.State {
	switch p.Class(method) {
	case ClassBroadcast:
		return AllHealthy(states)
	case ClassLatency:
		return Fastest(states)
	default:
		return BestScore(states)
	}
}

// Route is Select over a fresh registry snapshot.
func (p Policy) Route(reg *provider.Registry, method string) []provider.State {
	return p.Select(reg.Snapshot(), method)
}

// AllHealthy returns every healthy provider. Cool-off is not filtered here;
// a cooling-off provider is never healthy anyway.
func AllHealthy(states []provider.State) []provider.State {
	return lo.Filter(states, func(s provider.State, _ int) bool { return s.Healthy })
}

// Fastest returns the eligible provider with the lowest average latency.
// The first one wins a tie.
func Fastest(states []provider.State) []provider.State {
	return pickMin(states, func(a, b provider.State) bool {
		return a.AverageLatency < b.AverageLatency
	})
}

// BestScore returns the eligible provider with the lowest score. The first
// one wins a tie.
func BestScore(states []provider.State) []provider.State {
	return pickMin(states, func(a, b provider.State) bool {
		return provider.Score(a) < provider.Score(b)
	})
}

// ByScore returns every eligible provider ordered by ascending score, keeping
// configuration order among equal scores.
func ByScore(states []provider.State) []provider.State {
	out := eligible(states)
	slices.SortStableFunc(out, func(a, b provider.State) int {
		return cmp.Compare(provider.Score(a), provider.Score(b))
	})
	return out
}

func eligible(states []provider.State) []provider.State {
	return lo.Filter(states, func(s provider.State, _ int) bool { return s.Eligible() })
}

// pickMin keeps the earliest element on ties because less is strict.
func pickMin(states []provider.State, less func(a, b provider.State) bool) []provider.State {
	candidates := eligible(states)
	if len(candidates) == 0 {
		return nil
	}
	return []provider.State{lo.MinBy(candidates, less)}
}

// Names returns the provider names of states.
func Names(states []provider.State) []string {
	return lo.Map(states, func(s provider.State, _ int) string { return s.Name })
}
