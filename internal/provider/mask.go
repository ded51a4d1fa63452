// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"net/url"
	"strings"
)

const redacted = "***"

// credentialPathHosts lists host suffixes that embed the access token as the
// last path segment, e.g. https://name.solana-mainnet.quiknode.pro/<token>/.
var credentialPathHosts = []string{"quiknode.pro"}

// MaskURL hides credentials embedded in a provider URL so it can be logged.
// An api-key query value is replaced together with anything after it; a
// token path segment on known hosts is replaced; userinfo is redacted.
func MaskURL(raw string) string {
	if idx := strings.Index(raw, "api-key="); idx >= 0 {
		return raw[:idx] + "api-key=" + redacted
	}

	u, err := url.Parse(raw)
	if err != nil {
		return redacted
	}

	if hasCredentialPath(u.Hostname()) {
		segments := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(segments) > 0 && segments[0] != "" {
			segments[len(segments)-1] = redacted
			return u.Scheme + "://" + u.Host + "/" + strings.Join(segments, "/") + "/"
		}
	}

	if u.User != nil {
		return u.Redacted()
	}
	return raw
}

func hasCredentialPath(host string) bool {
	for _, suffix := range credentialPathHosts {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
