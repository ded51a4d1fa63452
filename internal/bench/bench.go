// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package bench probes every configured provider once and reports latency.
package bench

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"github.com/sigil-dev/rpcrouter/internal/provider"
)

// DefaultTimeout bounds each benchmark probe.
const DefaultTimeout = 5 * time.Second

// Status labels printed in the report.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Result is the outcome of one probe.
type Result struct {
	Provider string
	Latency  time.Duration
	Healthy  bool
	Err      error
}

// Status returns the printable status label.
func (r Result) Status() string {
	if r.Healthy {
		return StatusHealthy
	}
	return StatusUnhealthy
}

// Report holds results in provider configuration order.
type Report struct {
	Results []Result
}

// Best returns the healthy result with the lowest latency. The earlier
// provider wins a tie.
func (r Report) Best() (Result, bool) {
	healthy := lo.Filter(r.Results, func(res Result, _ int) bool { return res.Healthy })
	if len(healthy) == 0 {
		return Result{}, false
	}
	return lo.MinBy(healthy, func(a, b Result) bool { return a.Latency < b.Latency }), true
}

// Option configures a benchmark run.
type Option func(*runner)

type runner struct {
	client  *http.Client
	timeout time.Duration
	now     func() time.Time
}

// WithClient sets the HTTP client used for probes.
func WithClient(c *http.Client) Option {
	return func(r *runner) {
		if c != nil {
			r.client = c
		}
	}
}

// WithTimeout sets the per-probe timeout.
func WithTimeout(d time.Duration) Option {
	return func(r *runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// Run probes each provider once, sequentially, with the getHealth call.
// Latency is measured even for failed probes.
func Run(ctx context.Context, providers []provider.Provider, opts ...Option) Report {
	r := &runner{
		client:  http.DefaultClient,
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	rep := Report{Results: make([]Result, 0, len(providers))}
	for _, p := range providers {
		rep.Results = append(rep.Results, r.probe(ctx, p))
	}
	return rep
}

func (r *runner) probe(ctx context.Context, p provider.Provider) Result {
	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	err := provider.Probe(probeCtx, r.client, p.URL)
	return Result{
		Provider: p.Name,
		Latency:  r.now().Sub(start),
		Healthy:  err == nil,
		Err:      err,
	}
}

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)
	cellStyle      = lipgloss.NewStyle().Padding(0, 1)
	healthyStyle   = cellStyle.Foreground(lipgloss.Color("10"))
	unhealthyStyle = cellStyle.Foreground(lipgloss.Color("9"))
	bestStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
)

// Render writes the report as a table followed by the best provider line.
func Render(w io.Writer, rep Report) error {
	rows := lo.Map(rep.Results, func(res Result, _ int) []string {
		return []string{res.Provider, strconv.FormatInt(res.Latency.Milliseconds(), 10), res.Status()}
	})

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("Provider", "Latency(ms)", "Status").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2 && rep.Results[row].Healthy:
				return healthyStyle
			case col == 2:
				return unhealthyStyle
			default:
				return cellStyle
			}
		})

	if _, err := fmt.Fprintln(w, t.Render()); err != nil {
		return err
	}

	best, ok := rep.Best()
	if !ok {
		_, err := fmt.Fprintln(w, "no healthy providers")
		return err
	}
	_, err := fmt.Fprintln(w, bestStyle.Render(fmt.Sprintf("best provider: %s (%dms)", best.Provider, best.Latency.Milliseconds())))
	return err
}
