// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package dispatch

import (
	"context"
	"log/slog"

	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/router"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/sourcegraph/conc"
)

// Single sends body to the first routed candidate only.
func (e *Engine) Single(ctx context.Context, method string, body []byte) (Result, error) {
	candidates := e.policy.Route(e.registry, method)
	if len(candidates) == 0 {
		return Result{}, e.noCandidates(StrategySingle, method)
	}

	target := candidates[0]
	out, err := e.call(ctx, target, body)
	if err != nil {
		e.metrics.ObserveDispatch(string(StrategySingle), "failure")
		return Result{}, sigilerr.With(err, sigilerr.FieldMethod(method))
	}
	return e.succeeded(StrategySingle, out, target.Name), nil
}

// Retry tries the routed candidates in order and returns the first success.
func (e *Engine) Retry(ctx context.Context, method string, body []byte) (Result, error) {
	candidates := e.policy.Route(e.registry, method)
	if len(candidates) == 0 {
		return Result{}, e.noCandidates(StrategyRetry, method)
	}
	return e.sequential(ctx, StrategyRetry, method, candidates, body)
}

// Failover tries every eligible provider in ascending score order.
func (e *Engine) Failover(ctx context.Context, body []byte) (Result, error) {
	method := Method(body)
	candidates := router.ByScore(e.registry.Snapshot())
	if len(candidates) == 0 {
		return Result{}, e.allFailed(StrategyFailover, method, nil)
	}
	return e.sequential(ctx, StrategyFailover, method, candidates, body)
}

func (e *Engine) sequential(ctx context.Context, strategy Strategy, method string, candidates []provider.State, body []byte) (Result, error) {
	var last error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			last = err
			break
		}
		out, err := e.call(ctx, c, body)
		if err == nil {
			slog.Info("request served", "method", method, "provider", c.Name, "strategy", strategy)
			return e.succeeded(strategy, out, c.Name), nil
		}
		last = err
		slog.Warn("provider failed, trying next",
			"method", method,
			"provider", c.Name,
			"url", provider.MaskURL(c.URL),
			"error", err)
	}
	return Result{}, e.allFailed(strategy, method, last)
}

type outcome struct {
	provider string
	body     []byte
	err      error
}

// fanOut calls every candidate concurrently. The returned channel is buffered
// to len(candidates) and receives exactly one outcome per candidate, so
// abandoned calls never block. Calls are detached from ctx cancellation and
// bounded by the client timeout instead.
func (e *Engine) fanOut(ctx context.Context, strategy Strategy, candidates []provider.State, body []byte) <-chan outcome {
	results := make(chan outcome, len(candidates))
	ctx = context.WithoutCancel(ctx)

	var wg conc.WaitGroup
	for _, c := range candidates {
		wg.Go(func() {
			res := outcome{provider: c.Name, err: sigilerr.New(sigilerr.CodeDispatchUpstream,
				"provider call aborted", sigilerr.FieldProvider(c.Name))}
			defer func() { results <- res }()
			res.body, res.err = e.call(ctx, c, body)
		})
	}

	go func() {
		if r := wg.WaitAndRecover(); r != nil {
			slog.Error("fan-out call panicked", "strategy", strategy, "panic", r.String())
		}
	}()

	return results
}

// Broadcast sends body to every healthy provider and returns the response
// with the highest result.context.slot. A response without a slot is
// returned as soon as it arrives.
func (e *Engine) Broadcast(ctx context.Context, body []byte) (Result, error) {
	method := Method(body)
	candidates := router.AllHealthy(e.registry.Snapshot())
	if len(candidates) == 0 {
		return Result{}, e.noCandidates(StrategyBroadcast, method)
	}

	results := e.fanOut(ctx, StrategyBroadcast, candidates, body)

	var (
		best     []byte
		bestSlot uint64
		winner   string
		last     error
	)
	for range candidates {
		var r outcome
		select {
		case r = <-results:
		case <-ctx.Done():
			return Result{}, e.allFailed(StrategyBroadcast, method, ctx.Err())
		}
		if r.err != nil {
			last = r.err
			slog.Debug("broadcast member failed", "provider", r.provider, "error", r.err)
			continue
		}
		slot := Slot(r.body)
		if slot == 0 {
			slog.Debug("broadcast answered without slot", "method", method, "provider", r.provider)
			return e.succeeded(StrategyBroadcast, r.body, BroadcastAttribution), nil
		}
		if best == nil || slot > bestSlot {
			best, bestSlot, winner = r.body, slot, r.provider
		}
	}

	if best == nil {
		return Result{}, e.allFailed(StrategyBroadcast, method, last)
	}
	slog.Debug("broadcast resolved", "method", method, "provider", winner, "slot", bestSlot)
	return e.succeeded(StrategyBroadcast, best, BroadcastAttribution), nil
}

// Race sends body to every healthy provider and returns the first success.
// Losing calls run to completion and are discarded.
func (e *Engine) Race(ctx context.Context, method string, body []byte) (Result, error) {
	candidates := router.AllHealthy(e.registry.Snapshot())
	if len(candidates) == 0 {
		return Result{}, e.noCandidates(StrategyRace, method)
	}

	results := e.fanOut(ctx, StrategyRace, candidates, body)

	var last error
	for range candidates {
		var r outcome
		select {
		case r = <-results:
		case <-ctx.Done():
			return Result{}, e.allFailed(StrategyRace, method, ctx.Err())
		}
		if r.err == nil {
			slog.Info("race won", "method", method, "provider", r.provider)
			return e.succeeded(StrategyRace, r.body, r.provider), nil
		}
		last = r.err
	}
	return Result{}, e.allFailed(StrategyRace, method, last)
}
