// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"errors"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/sigil-dev/rpcrouter/internal/config"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Log output formats accepted by --log-format and LOG_FORMAT.
const (
	logFormatText = "text"
	logFormatJSON = "json"
)

// NewRootCmd creates the root rpcrouter command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rpcrouter",
		Short:         "Adaptive Solana JSON-RPC load balancer",
		Long:          "rpcrouter spreads JSON-RPC traffic across Solana providers using live health probes and latency scores.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(); err != nil {
				return err
			}
			if err := initViper(cmd); err != nil {
				return err
			}
			return setupLogging(cmd.ErrOrStderr(), viper.GetString("log_format"), viper.GetBool("verbose"))
		},
	}

	root.PersistentFlags().StringP("config", "c", "", "path to config.toml")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	root.PersistentFlags().String("log-format", logFormatText, "log output format (text or json)")

	root.AddCommand(
		newInitCmd(),
		newStartCmd(),
		newBenchmarkCmd(),
		newStatusCmd(),
		newSecretCmd(),
		newDoctorCmd(),
		newVersionCmd(),
	)

	return root
}

// loadDotEnv reads ./.env into the process environment. Variables already
// set win, and a missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "loading .env: %w", err)
	}
	return nil
}

// initViper binds the global flags and their environment variables so the
// usual precedence (flag > env > default) applies.
func initViper(cmd *cobra.Command) error {
	v := viper.GetViper()

	config.SetDefaults(v)
	config.SetupEnv(v)

	if err := v.BindEnv("log_format", "LOG_FORMAT"); err != nil {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "binding LOG_FORMAT: %w", err)
	}
	if err := v.BindPFlag("log_format", cmd.Root().PersistentFlags().Lookup("log-format")); err != nil {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "binding log-format flag: %w", err)
	}
	if err := v.BindPFlag("verbose", cmd.Root().PersistentFlags().Lookup("verbose")); err != nil {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	return nil
}

// setupLogging installs the default slog logger.
func setupLogging(w io.Writer, format string, verbose bool) error {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}

	var h slog.Handler
	switch format {
	case "", logFormatText:
		h = slog.NewTextHandler(w, opts)
	case logFormatJSON:
		h = slog.NewJSONHandler(w, opts)
	default:
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "unknown log format %q (want text or json)", format)
	}

	slog.SetDefault(slog.New(h))
	return nil
}

// loadConfig loads the file named by --config, or searches the standard
// locations. When nothing is found a default config is bootstrapped to
// ~/.config/rpcrouter/config.toml and loaded.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err == nil || cfgPath != "" || !sigilerr.HasCode(err, sigilerr.CodeConfigLoadReadFailure) {
		return cfg, err
	}

	path := config.BootstrapConfig()
	if path == "" {
		return nil, err
	}
	return config.Load(path)
}
