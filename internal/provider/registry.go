// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package provider

import (
	"strings"
	"sync"

	sigilerr "github.com/sigil-dev/rpcrouter/pkg/errors"
)

// entry guards one provider's state. Updates to a single provider are one
// critical section; there is no lock spanning several providers.
type entry struct {
	mu    sync.RWMutex
	state State
}

// Registry is the process-wide table of provider health state. The key set is
// fixed at construction, so lookups never lock the table itself.
type Registry struct {
	order   []string
	entries map[string]*entry
	byURL   map[string]string
}

// NewRegistry creates a Registry with one healthy, unmeasured entry per
// provider. Names must be unique, URLs non-empty and weights positive.
func NewRegistry(providers []Provider) (*Registry, error) {
	r := &Registry{
		order:   make([]string, 0, len(providers)),
		entries: make(map[string]*entry, len(providers)),
		byURL:   make(map[string]string, len(providers)),
	}

	for i, p := range providers {
		if strings.TrimSpace(p.Name) == "" {
			return nil, sigilerr.Errorf(sigilerr.CodeConfigValidateInvalidValue,
				"provider %d: name must not be empty", i)
		}
		if _, dup := r.entries[p.Name]; dup {
			return nil, sigilerr.New(sigilerr.CodeProviderDuplicate,
				"duplicate provider name: "+p.Name, sigilerr.FieldProvider(p.Name))
		}
		if p.URL == "" {
			return nil, sigilerr.New(sigilerr.CodeConfigValidateInvalidValue,
				"provider url must not be empty", sigilerr.FieldProvider(p.Name))
		}
		if p.Weight == 0 {
			return nil, sigilerr.New(sigilerr.CodeConfigValidateInvalidValue,
				"provider weight must be positive", sigilerr.FieldProvider(p.Name))
		}

		r.order = append(r.order, p.Name)
		r.entries[p.Name] = &entry{state: NewState(p)}
		if _, seen := r.byURL[p.URL]; !seen {
			r.byURL[p.URL] = p.Name
		}
	}

	return r, nil
}

// Len returns the number of providers.
func (r *Registry) Len() int {
	return len(r.order)
}

// Get returns a copy of the named provider's state.
func (r *Registry) Get(name string) (State, bool) {
	e, ok := r.entries[name]
	if !ok {
		return State{}, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state, true
}

// MustGet is like Get but returns a not-found error for unknown names.
func (r *Registry) MustGet(name string) (State, error) {
	s, ok := r.Get(name)
	if !ok {
		return State{}, sigilerr.New(sigilerr.CodeProviderNotFound,
			"provider not found: "+name, sigilerr.FieldProvider(name))
	}
	return s, nil
}

// Snapshot returns a copy of every provider's state in configuration order.
// Each element is internally consistent; the slice as a whole is not an
// atomic cut across providers.
func (r *Registry) Snapshot() []State {
	out := make([]State, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		e.mu.RLock()
		out = append(out, e.state)
		e.mu.RUnlock()
	}
	return out
}

// Providers returns the static provider definitions in configuration order.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		e.mu.RLock()
		out = append(out, e.state.Provider)
		e.mu.RUnlock()
	}
	return out
}

// Update applies fn to the named provider's state as one atomic
// read-modify-write and returns the resulting state. The static provider
// fields cannot be changed by fn.
func (r *Registry) Update(name string, fn func(*State)) (State, bool) {
	e, ok := r.entries[name]
	if !ok {
		return State{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.state
	fn(&next)
	next.Provider = e.state.Provider
	e.state = next
	return next, true
}

// NameForURL maps a provider URL back to its name for response attribution.
// Unknown URLs are returned unchanged.
func (r *Registry) NameForURL(url string) string {
	if name, ok := r.byURL[url]; ok {
		return name
	}
	return url
}
