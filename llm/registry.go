package llm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/aicore/types"
)

type registryKey struct {
	provider   string
	capability types.Capability
}

// ProviderRegistry is a thread-safe registry of adapters keyed by provider id
// and capability. One provider usually serves several capabilities through
// different adapters.
type ProviderRegistry struct {
	adapters map[registryKey]Adapter
	mu       sync.RWMutex
}

// NewProviderRegistry creates an empty ProviderRegistry.
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		adapters: make(map[registryKey]Adapter),
	}
}

// Register adds an adapter for the given provider and capability.
// The adapter must implement the interface matching the capability.
func (r *ProviderRegistry) Register(providerID string, capability types.Capability, a Adapter) error {
	if !supports(capability, a) {
		return fmt.Errorf("adapter %q does not implement %s", a.Name(), capability)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[registryKey{providerID, capability}] = a
	return nil
}

// Get retrieves an adapter by provider and capability.
func (r *ProviderRegistry) Get(providerID string, capability types.Capability) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[registryKey{providerID, capability}]
	return a, ok
}

// Unregister removes every adapter of a provider.
func (r *ProviderRegistry) Unregister(providerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.adapters {
		if k.provider == providerID {
			delete(r.adapters, k)
		}
	}
}

// Providers returns the sorted ids of all providers with at least one adapter.
func (r *ProviderRegistry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range r.adapters {
		seen[k.provider] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Probes returns one adapter per provider for health checks.
func (r *ProviderRegistry) Probes() map[string]Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Adapter)
	for k, a := range r.adapters {
		if _, ok := out[k.provider]; !ok || k.capability == types.CapabilityTextGeneration {
			out[k.provider] = a
		}
	}
	return out
}

// Len returns the number of registered adapters.
func (r *ProviderRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}

func supports(c types.Capability, a Adapter) bool {
	switch c {
	case types.CapabilityTextGeneration, types.CapabilityImageUnderstanding:
		_, ok := a.(TextGenerator)
		return ok
	case types.CapabilityTextEmbedding:
		_, ok := a.(Embedder)
		return ok
	case types.CapabilityImageGeneration:
		_, ok := a.(ImageGenerator)
		return ok
	case types.CapabilitySpeechSynthesis:
		_, ok := a.(SpeechSynthesizer)
		return ok
	case types.CapabilitySpeechRecognition:
		_, ok := a.(SpeechRecognizer)
		return ok
	}
	return false
}
