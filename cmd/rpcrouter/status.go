// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/sigil-dev/rpcrouter/pkg/health"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const defaultAddress = "127.0.0.1:3000"

var (
	healthyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	unhealthyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	coolOffStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show provider status of a running router",
		Long:  "Fetch /stats from a running router and print health, latency and score per provider.",
		RunE:  runStatus,
	}

	cmd.Flags().String("address", defaultAddress, "router address to query")
	cmd.Flags().StringP("output", "o", "text", "output format (text, json or yaml)")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("address")
	format, _ := cmd.Flags().GetString("output")
	out := cmd.OutOrStdout()

	switch format {
	case "text", "json", "yaml":
	default:
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "unknown output format %q (want text, json or yaml)", format)
	}

	var stats health.Stats
	if err := newGatewayClient(addr).getJSON("/stats", &stats); err != nil {
		if sigilerr.HasCode(err, sigilerr.CodeCLIGatewayNotRunning) {
			_, _ = fmt.Fprintf(out, "Router at %s is not running (connection refused)\n", addr)
			return nil
		}
		_, _ = fmt.Fprintf(out, "Router at %s: %s\n", addr, err)
		return nil
	}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(stats); err != nil {
			return err
		}
		return enc.Close()
	}

	_, _ = fmt.Fprintf(out, "Router at %s: %d/%d providers healthy\n", addr, stats.Healthy(), len(stats.Providers))
	return printStats(out, stats)
}

func printStats(w io.Writer, stats health.Stats) error {
	for _, p := range stats.Providers {
		if _, err := fmt.Fprintf(w, "  %-20s %-10s latency=%sms errors=%d weight=%d score=%s\n",
			p.Name, statusLabel(p), formatMetric(p.AverageLatency), p.ErrorCount, p.Weight, formatScore(p.Score)); err != nil {
			return err
		}
	}
	return nil
}

func statusLabel(p health.ProviderStats) string {
	switch {
	case p.Healthy:
		return healthyStyle.Render("healthy")
	case p.CoolOff:
		return coolOffStyle.Render("cool-off")
	default:
		return unhealthyStyle.Render("unhealthy")
	}
}

// formatMetric prints "-" for an unmeasured latency.
func formatMetric(v uint64) string {
	if v == 0 {
		return "-"
	}
	return strconv.FormatUint(v, 10)
}

// formatScore prints "-" for the unmeasured sentinel.
func formatScore(v uint64) string {
	if v == math.MaxUint64 {
		return "-"
	}
	return strconv.FormatUint(v, 10)
}
