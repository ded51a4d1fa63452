// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/sigil-dev/rpcrouter/internal/balancer"
	"github.com/sigil-dev/rpcrouter/internal/config"
	"github.com/sigil-dev/rpcrouter/internal/provider"
	"github.com/sigil-dev/rpcrouter/internal/server"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the load balancer",
		Long:  "Load configuration, start health probing, and serve the JSON-RPC proxy until interrupted.",
		RunE:  runStart,
	}

	cmd.Flags().Int("port", 0, "override settings.port")

	return cmd
}

func runStart(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.Settings.Port = port
	}
	config.WarnInsecurePermissions(cfg)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bal, err := balancer.New(cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		ListenAddr:     fmt.Sprintf(":%d", cfg.Settings.Port),
		CORSOrigins:    cfg.Settings.CORSOrigins,
		RequestTimeout: 2*cfg.Settings.RequestTimeout + cfg.Settings.ProbeTimeout,
		Gateway:        bal,
		Metrics:        bal.Metrics().Handler(),
		Version:        version,
	})
	if err != nil {
		return err
	}

	for _, p := range cfg.ProviderList() {
		slog.Info("provider configured",
			"provider", p.Name,
			"url", provider.MaskURL(p.URL),
			"weight", p.Weight,
			"max_rps", p.MaxRPS)
	}

	bal.Start(ctx)
	defer func() {
		stop()
		bal.Wait()
	}()

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "rpcrouter listening on :%d with %d provider(s)\n",
		cfg.Settings.Port, len(cfg.Providers)); err != nil {
		return err
	}

	err = srv.Start(ctx)
	if ctx.Err() != nil {
		slog.Info("shutting down", "cause", context.Cause(ctx))
	}
	return err
}
