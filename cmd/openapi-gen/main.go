// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sigil-dev/rpcrouter/internal/dispatch"
	"github.com/sigil-dev/rpcrouter/internal/server"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/sigil-dev/rpcrouter/pkg/health"
)

func main() {
	spec, err := generateSpec()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	outPath := "api/openapi/spec.json"
	if len(os.Args) > 1 {
		outPath = os.Args[1]
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "error creating output dir: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, spec, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "error writing spec: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("OpenAPI spec written to %s\n", outPath)
}

// generateSpec builds a server on a stub gateway and returns the OpenAPI
// document huma derives from the registered operations.
func generateSpec() ([]byte, error) {
	srv, err := server.New(server.Config{
		ListenAddr: "127.0.0.1:0",
		Gateway:    stubGateway{},
	})
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "creating server: %w", err)
	}

	return json.MarshalIndent(srv.API().OpenAPI(), "", "  ")
}

// stubGateway is never called during spec generation.
type stubGateway struct{}

func (stubGateway) Proxy(context.Context, []byte) (dispatch.Result, error) {
	return dispatch.Result{}, nil
}

func (stubGateway) Dispatch(context.Context, dispatch.Strategy, []byte) (dispatch.Result, error) {
	return dispatch.Result{}, nil
}

func (stubGateway) Stats() health.Stats { return health.Stats{} }

func (stubGateway) Health() []health.ProviderHealth { return nil }
