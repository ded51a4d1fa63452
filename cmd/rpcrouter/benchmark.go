// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/sigil-dev/rpcrouter/internal/bench"
	"github.com/spf13/cobra"
)

func newBenchmarkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark",
		Short: "Probe every provider once and compare latency",
		Long:  "Send one getHealth call to each configured provider and print latency, status and the best provider.",
		RunE:  runBenchmark,
	}

	cmd.Flags().Duration("timeout", bench.DefaultTimeout, "per-provider probe timeout")

	return cmd
}

func runBenchmark(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintln(out, "Benchmarking all providers..."); err != nil {
		return err
	}

	rep := bench.Run(cmd.Context(), cfg.ProviderList(),
		bench.WithClient(defaultHTTPClient),
		bench.WithTimeout(timeout))
	return bench.Render(out, rep)
}
