// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and the working directory at empty temp dirs so no
// command reads or bootstraps a real config.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	t.Setenv("PORT", "")
	t.Setenv("LOG_FORMAT", "")
}

// rpcBackend answers getHealth and every other call with a JSON-RPC result.
func rpcBackend(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","result":"ok","id":1}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeTestConfig(t *testing.T, port int, urls ...string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "[settings]\nport = %d\nprobe_interval = \"1h\"\n\n", port)
	for i, u := range urls {
		fmt.Fprintf(&b, "[[providers]]\nname = \"p%d\"\nurl = %q\nweight = 1\n\n", i, u)
	}
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestRootCommand_Help(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"start", "benchmark", "status", "doctor", "version", "init"} {
		assert.Contains(t, out, sub)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	out, err := execute(t, "--verbose", "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "--config")
	assert.Contains(t, out, "--verbose")
	assert.Contains(t, out, "--log-format")
}

func TestVersionCommand(t *testing.T) {
	isolate(t)
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "rpcrouter dev")
}

func TestRootCommand_UnknownLogFormat(t *testing.T) {
	isolate(t)
	_, err := execute(t, "--log-format", "xml", "version")
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeCLISetupFailure))
}

func TestSetupLogging(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	tests := []struct {
		name    string
		format  string
		verbose bool
		check   func(t *testing.T, out string)
	}{
		{
			name:   "json",
			format: "json",
			check: func(t *testing.T, out string) {
				var line map[string]any
				require.NoError(t, json.Unmarshal([]byte(out), &line))
				assert.Equal(t, "hello", line["msg"])
			},
		},
		{
			name:   "text default",
			format: "",
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "msg=hello")
			},
		},
		{
			name:    "verbose enables debug",
			format:  "text",
			verbose: true,
			check: func(t *testing.T, out string) {
				assert.Contains(t, out, "level=DEBUG")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, setupLogging(&buf, tt.format, tt.verbose))
			if tt.verbose {
				slog.Debug("hello")
			} else {
				slog.Info("hello")
			}
			tt.check(t, buf.String())
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, loadDotEnv(), "missing .env is fine")

	require.NoError(t, os.WriteFile(".env", []byte("RPCROUTER_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("RPCROUTER_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("RPCROUTER_TEST_DOTENV"))

	require.NoError(t, loadDotEnv())
	assert.Equal(t, "loaded", os.Getenv("RPCROUTER_TEST_DOTENV"))
}

func TestLoadConfig_BootstrapsDefault(t *testing.T) {
	isolate(t)
	home := os.Getenv("HOME")

	root := NewRootCmd()
	cfg, err := loadConfig(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "rpcrouter", "config.toml"), cfg.Path)
	require.NotEmpty(t, cfg.Providers)
	assert.Equal(t, "solana-public", cfg.Providers[0].Name)
}

func TestLoadConfig_ExplicitPathMissing(t *testing.T) {
	isolate(t)
	_, err := execute(t, "benchmark", "--config", "/nonexistent/config.toml")
	require.Error(t, err)
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeConfigLoadReadFailure))

	_, statErr := os.Stat(filepath.Join(os.Getenv("HOME"), ".config", "rpcrouter", "config.toml"))
	assert.True(t, os.IsNotExist(statErr), "explicit path must not bootstrap")
}
