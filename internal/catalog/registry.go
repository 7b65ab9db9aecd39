// Copyright 2026 The modelwatch Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package catalog

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Registry is the process-wide table of named providers. It is populated once
// at startup by each provider's registration step and read many times after;
// providers are looked up, never removed, for the process lifetime. The
// registry holds exactly one default provider at any time: the first
// registration wins unless a later one is explicitly flagged.
type Registry struct {
	mu          sync.RWMutex
	providers   map[string]MetadataProvider
	defaultName string
}

// Global registry instance, constructed lazily under a once guard so
// concurrent first-time requests converge on a single instance.
var (
	globalRegistry *Registry
	registryOnce   sync.Once
)

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]MetadataProvider)}
}

// GlobalRegistry returns the shared process-wide registry.
func GlobalRegistry() *Registry {
	registryOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Register adds a provider under its own name. Registering the same name
// again replaces the instance but keeps default designation stable, so
// repeated registration is safe. The first provider registered becomes the
// default; isDefault forces the designation onto this one.
func (r *Registry) Register(p MetadataProvider, isDefault bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := p.Name()
	if _, replaced := r.providers[name]; replaced {
		log.Debugf("provider %s re-registered", name)
	}
	r.providers[name] = p
	if isDefault || r.defaultName == "" {
		r.defaultName = name
	}
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (MetadataProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", name)
	}
	return p, nil
}

// Default returns the designated default provider.
func (r *Registry) Default() (MetadataProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return nil, fmt.Errorf("no providers registered")
	}
	return r.providers[r.defaultName], nil
}

// DefaultName returns the name of the default provider, or "".
func (r *Registry) DefaultName() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultName
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ordered resolves names against the registry, preserving order and skipping
// unknown entries with a warning. An empty request yields the default
// provider alone.
func (r *Registry) Ordered(names []string) []MetadataProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(names) == 0 {
		if r.defaultName == "" {
			return nil
		}
		return []MetadataProvider{r.providers[r.defaultName]}
	}
	out := make([]MetadataProvider, 0, len(names))
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok {
			log.Warnf("ignoring unknown provider %q in fallback order", name)
			continue
		}
		out = append(out, p)
	}
	return out
}
