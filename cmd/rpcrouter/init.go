// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sigil-dev/rpcrouter/internal/config"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/spf13/cobra"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a config file",
		Long: `Write a config.toml to path, or to ~/.config/rpcrouter/config.toml.

Without flags the commented default config is written and an existing file is
left untouched. With --interactive a wizard asks for your first provider,
probes it, and optionally keeps its URL in the OS keyring so API keys never
land in the file.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runInit,
	}

	cmd.Flags().BoolP("interactive", "i", false, "run the setup wizard")
	cmd.Flags().Bool("force", false, "let the wizard overwrite an existing config file")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	var path string
	if len(args) == 1 {
		path = args[0]
	} else {
		p, err := config.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	if interactive, _ := cmd.Flags().GetBool("interactive"); interactive {
		force, _ := cmd.Flags().GetBool("force")
		return runWizard(cmd, path, force)
	}

	written, err := config.WriteDefault(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !written {
		_, err = fmt.Fprintf(out, "Config already exists at %s\n", path)
		return err
	}
	_, err = fmt.Fprintf(out, "Wrote default config to %s\nEdit [[providers]] and run 'rpcrouter start'.\n", path)
	return err
}

func runWizard(cmd *cobra.Command, path string, force bool) error {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !isTerminal(f) {
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(),
			"rpcrouter init --interactive requires a terminal.\n"+
				"Run 'rpcrouter init' to write the default config and edit it instead.")
		return sigilerr.New(sigilerr.CodeCLISetupFailure, "init: not an interactive terminal")
	}

	p := tea.NewProgram(newWizardModel(path, secretStoreFactory(), force), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "init wizard: %w", err)
	}

	fm, ok := final.(wizardModel)
	if !ok {
		return sigilerr.New(sigilerr.CodeCLISetupFailure, "unexpected model type after wizard")
	}
	if fm.errFinal != nil {
		return fm.errFinal
	}
	if fm.step == stepDone {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote config to %s\n", fm.configPath)
	}
	return nil
}
