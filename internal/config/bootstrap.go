// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"

	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
)

//go:embed config.toml.default
var DefaultConfigTOML []byte

// DefaultConfigPath returns ~/.config/rpcrouter/config.toml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "rpcrouter", "config.toml"), nil
}

// WriteDefault writes the commented default config to path unless a file is
// already there. It reports whether a file was written.
func WriteDefault(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "creating %s: %w", dir, err)
	}

	// Provider URLs often embed API keys.
	if err := os.WriteFile(path, DefaultConfigTOML, 0o600); err != nil {
		return false, sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "writing %s: %w", path, err)
	}

	slog.Info("created default config", "path", path)
	return true, nil
}

// BootstrapConfig writes the default config to DefaultConfigPath if nothing
// exists there yet. It returns the path written, or "" when the file already
// existed or could not be written.
func BootstrapConfig() string {
	cfgPath, err := DefaultConfigPath()
	if err != nil {
		slog.Debug("skipping config bootstrap", "error", err)
		return ""
	}

	written, err := WriteDefault(cfgPath)
	if err != nil {
		slog.Debug("skipping config bootstrap", "path", cfgPath, "error", err)
		return ""
	}
	if !written {
		return ""
	}
	return cfgPath
}
