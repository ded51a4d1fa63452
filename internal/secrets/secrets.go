// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps provider endpoint URLs, which usually embed API keys,
// out of the config file.
package secrets

// DefaultService is the keyring service rpcrouter stores provider URLs under.
const DefaultService = "rpcrouter"

// Store provides secret storage operations.
type Store interface {
	// Store saves value under service/key.
	Store(service, key, value string) error

	// Retrieve fetches the value for service/key. A missing entry has code
	// CodeSecretNotFound.
	Retrieve(service, key string) (string, error)

	// Delete removes service/key. A missing entry has code CodeSecretNotFound.
	Delete(service, key string) error

	// List returns the key names stored under service, in insertion order.
	List(service string) ([]string, error)
}
