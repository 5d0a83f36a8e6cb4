package breaker

import (
	"log/slog"
	"sync"
)

// Registry lazily creates and caches one Breaker per provider name.
// Grounded on the original `circuit_breaker.py`'s module-level
// `get_circuit_breaker(name)` registry function.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *slog.Logger
	metrics  MetricsSink
}

// NewRegistry creates a Registry that builds new breakers using the
// given default config unless overridden per-provider.
func NewRegistry(defaultCfg Config, logger *slog.Logger, metrics MetricsSink) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		cfg:      defaultCfg,
		logger:   logger,
		metrics:  metrics,
	}
}

// GetOrCreate returns the breaker for provider, creating it with the
// registry's default config on first use.
func (r *Registry) GetOrCreate(provider string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = New(provider, r.cfg, r.logger, r.metrics)
	r.breakers[provider] = b
	return b
}

// GetOrCreateWithConfig returns the breaker for provider, creating it
// with cfg if it doesn't already exist. An existing breaker's config is
// left unchanged.
func (r *Registry) GetOrCreateWithConfig(provider string, cfg Config) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[provider]; ok {
		return b
	}
	b = New(provider, cfg, r.logger, r.metrics)
	r.breakers[provider] = b
	return b
}

// All returns a snapshot of every registered provider's breaker.
func (r *Registry) All() map[string]*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*Breaker, len(r.breakers))
	for k, v := range r.breakers {
		out[k] = v
	}
	return out
}

// Remove drops a provider's breaker from the registry entirely.
func (r *Registry) Remove(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.breakers, provider)
}
