// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets_test

import (
	"testing"

	"github.com/sigil-dev/rpcrouter/internal/secrets"
	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRef(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"keyring://rpcrouter/helius", true},
		{"keyring://", true},
		{"https://api.mainnet-beta.solana.com", false},
		{"vault://secret/key", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, secrets.IsRef(tt.value))
		})
	}
}

func TestParseRef(t *testing.T) {
	tests := []struct {
		name        string
		ref         string
		wantService string
		wantKey     string
		wantErr     bool
	}{
		{"valid", "keyring://rpcrouter/helius", "rpcrouter", "helius", false},
		{"slashes in key", "keyring://rpcrouter/mainnet/helius", "rpcrouter", "mainnet/helius", false},
		{"not a ref", "https://example.com/a", "", "", true},
		{"missing key", "keyring://rpcrouter/", "", "", true},
		{"missing service", "keyring:///helius", "", "", true},
		{"no path", "keyring://rpcrouter", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, key, err := secrets.ParseRef(tt.ref)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, sigilerr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantService, svc)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestRef_RoundTrip(t *testing.T) {
	svc, key, err := secrets.ParseRef(secrets.Ref(secrets.DefaultService, "triton"))
	require.NoError(t, err)
	assert.Equal(t, secrets.DefaultService, svc)
	assert.Equal(t, "triton", key)
}

func TestResolve(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Store("test-resolve", "helius", "https://mainnet.helius-rpc.com/?api-key=k"))

	got, err := secrets.Resolve(ks, "keyring://test-resolve/helius")
	require.NoError(t, err)
	assert.Equal(t, "https://mainnet.helius-rpc.com/?api-key=k", got)

	got, err = secrets.Resolve(ks, "https://api.mainnet-beta.solana.com")
	require.NoError(t, err)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", got, "plain values pass through")

	_, err = secrets.Resolve(ks, "keyring://test-resolve/missing")
	require.Error(t, err)
	assert.True(t, sigilerr.IsNotFound(err), "missing secret keeps its not-found code")
	assert.Contains(t, err.Error(), "keyring://test-resolve/missing")
}
