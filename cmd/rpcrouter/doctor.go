// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"net/http"
	"runtime"

	"github.com/sigil-dev/rpcrouter/internal/config"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/server"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/spf13/cobra"
)

// minOpenFiles is the descriptor limit below which doctor warns.
const minOpenFiles = 4096

func newDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostics",
		Long:  "Check the binary, configuration, provider definitions, open file limit, and a running router.",
		RunE:  runDoctor,
	}

	cmd.Flags().String("address", defaultAddress, "router address to check")

	return cmd
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	w := cmd.OutOrStdout()
	addr, _ := cmd.Flags().GetString("address")
	cfgPath, _ := cmd.Flags().GetString("config")

	checks := []struct {
		name string
		fn   func() string
	}{
		{"Binary", checkBinary},
		{"Platform", checkPlatform},
		{"Config", func() string { return checkConfig(cfgPath) }},
		{"Open Files", checkOpenFiles},
		{"Gateway", func() string { return checkGateway(addr) }},
	}

	for _, c := range checks {
		if _, err := fmt.Fprintf(w, "%-20s %s\n", c.name+":", c.fn()); err != nil {
			return err
		}
	}

	return nil
}

func checkBinary() string {
	return fmt.Sprintf("rpcrouter %s (%s/%s)", version, runtime.GOOS, runtime.GOARCH)
}

func checkPlatform() string {
	return fmt.Sprintf("%s/%s, Go %s, GOMAXPROCS %d", runtime.GOOS, runtime.GOARCH, runtime.Version(), runtime.GOMAXPROCS(0))
}

// checkConfig loads without bootstrapping so doctor never writes files.
func checkConfig(path string) string {
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Sprintf("error: %s", err)
	}

	source := cfg.Path
	if source == "" {
		source = "defaults"
	}
	msg := fmt.Sprintf("%d provider(s) from %s", len(cfg.Providers), source)
	for _, p := range cfg.Providers {
		msg += fmt.Sprintf("\n%-20s %s -> %s", "", p.Name, provider.MaskURL(p.URL))
	}
	return msg
}

func checkOpenFiles() string {
	limit, ok := openFileLimit()
	if !ok {
		return "not applicable on " + runtime.GOOS
	}
	if limit < minOpenFiles {
		return fmt.Sprintf("%d (low; raise with ulimit -n %d)", limit, minOpenFiles)
	}
	return fmt.Sprintf("%d", limit)
}

func checkGateway(addr string) string {
	var body server.HealthBody
	err := newGatewayClient(addr).getJSON("/health", &body, http.StatusOK, http.StatusServiceUnavailable)
	if err != nil {
		if sigilerr.HasCode(err, sigilerr.CodeCLIGatewayNotRunning) {
			return fmt.Sprintf("not running at %s (run 'rpcrouter start')", addr)
		}
		return fmt.Sprintf("error: %s", err)
	}
	return fmt.Sprintf("%s at %s (%d/%d providers healthy)", body.Status, addr, body.Healthy, body.Total)
}
