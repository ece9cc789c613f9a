package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry is a thread-safe registry of the local model pool.
// It supports registering, retrieving, and listing providers, as well as
// designating a default provider for requests that do not name one.
type ProviderRegistry struct {
	providers       map[string]Provider
	defaultProvider string
	mu              sync.RWMutex
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		providers: make(map[string]Provider),
	}
}

// Register adds a provider under the given id. An existing provider with the
// same id is replaced. The first registered provider becomes the default.
func (r *ProviderRegistry) Register(id string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.providers) == 0 && r.defaultProvider == "" {
		r.defaultProvider = id
	}
	r.providers[id] = p
}

// Get retrieves a provider by id.
func (r *ProviderRegistry) Get(id string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[id]
	return p, ok
}

// Default returns the default provider, or an error if none is usable.
func (r *ProviderRegistry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultProvider == "" {
		return nil, fmt.Errorf("no default provider set")
	}
	p, ok := r.providers[r.defaultProvider]
	if !ok {
		return nil, fmt.Errorf("default provider %q not found in registry", r.defaultProvider)
	}
	return p, nil
}

// SetDefault designates a registered provider as the default.
func (r *ProviderRegistry) SetDefault(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[id]; !ok {
		return fmt.Errorf("provider %q not registered", id)
	}
	r.defaultProvider = id
	return nil
}

// List returns the sorted ids of all registered providers.
func (r *ProviderRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ListCredentialed returns the sorted ids of providers with usable credentials.
func (r *ProviderRegistry) ListCredentialed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.providers))
	for id, p := range r.providers {
		if p.HasCredentials() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ModelMap returns the per-provider model lists, keyed by provider id.
func (r *ProviderRegistry) ModelMap() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.providers))
	for id, p := range r.providers {
		out[id] = p.Models()
	}
	return out
}

// Unregister removes a provider from the registry.
func (r *ProviderRegistry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, id)
	if r.defaultProvider == id {
		r.defaultProvider = ""
	}
}
