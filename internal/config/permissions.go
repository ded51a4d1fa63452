// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// WarnInsecurePermissions logs a warning when the loaded config embeds
// provider credentials and the file is readable by group or others. It never
// fails startup.
func WarnInsecurePermissions(cfg *Config) {
	if cfg == nil || cfg.Path == "" || !cfg.HasCredentials() {
		return
	}

	info, err := os.Stat(cfg.Path)
	if err != nil {
		slog.Debug("could not stat config file for permission check", "path", cfg.Path, "error", err)
		return
	}

	const groupOrOtherRead fs.FileMode = 0o044
	if info.Mode().Perm()&groupOrOtherRead != 0 {
		slog.Warn("config file has insecure permissions and contains provider credentials",
			"path", cfg.Path,
			"mode", info.Mode(),
			"recommended", "0600")
	}
}
