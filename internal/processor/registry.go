package processor

import (
	"fmt"
	"sort"
	"sync"

	"payment-gateway/internal/models"
)

// Registry maps a provider identifier to the processor implementing it.
// Populated once at startup and read-mostly afterwards; this is the single
// extension point for new providers.
type Registry struct {
	mu         sync.RWMutex
	processors map[models.PaymentProvider]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[models.PaymentProvider]Processor)}
}

// Register installs a processor for the provider. Idempotent per id, last
// write wins.
func (r *Registry) Register(provider models.PaymentProvider, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[provider] = p
}

// Get returns the processor for the provider.
func (r *Registry) Get(provider models.PaymentProvider) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", models.ErrUnknownProvider, provider)
	}
	return p, nil
}

// Providers returns the registered provider set, sorted for stable output.
func (r *Registry) Providers() []models.PaymentProvider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := make([]models.PaymentProvider, 0, len(r.processors))
	for p := range r.processors {
		providers = append(providers, p)
	}
	sort.Slice(providers, func(i, j int) bool { return providers[i] < providers[j] })
	return providers
}

// Has reports whether the provider is registered.
func (r *Registry) Has(provider models.PaymentProvider) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.processors[provider]
	return ok
}
