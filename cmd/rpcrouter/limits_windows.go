// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build windows

package main

func openFileLimit() (uint64, bool) {
	return 0, false
}
