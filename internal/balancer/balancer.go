// Package balancer implements the gateway's Load Balancer: provider
// selection across multiple strategies, plus health tracking used both
// to drive FAILOVER-style selection and to gate admission entirely.
package balancer

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"
)

// Strategy selects how a healthy provider is picked for a request.
type Strategy string

const (
	StrategyRoundRobin       Strategy = "round_robin"
	StrategyWeighted         Strategy = "weighted"
	StrategyLeastConnections Strategy = "least_connections"
	StrategyLatencyBased     Strategy = "latency_based"
	StrategyFailover         Strategy = "failover"
	StrategyRandom           Strategy = "random"
)

// ErrNoHealthyProvider is returned when every registered provider is
// currently marked unhealthy.
var ErrNoHealthyProvider = errors.New("balancer: no healthy provider available")

// ProviderConfig describes one upstream provider's balancing
// parameters, grounded in the original `ProviderConfig` dataclass.
type ProviderConfig struct {
	Name               string
	Weight             int
	Priority           int // lower runs first under FAILOVER
	FailureThreshold   int
	RecoveryThreshold  int
}

// Health tracks one provider's rolling health signal, grounded in the
// original `ProviderHealth` dataclass.
type Health struct {
	Name                 string
	IsHealthy            bool
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	AvgLatencyMs         float64
	TotalRequests        int64
	FailedRequests       int64
	ActiveConnections    int
}

// SuccessRate returns the fraction of requests that succeeded.
func (h Health) SuccessRate() float64 {
	if h.TotalRequests == 0 {
		return 1
	}
	return float64(h.TotalRequests-h.FailedRequests) / float64(h.TotalRequests)
}

// Score computes a 0-100 health score combining recent failures,
// latency, and success rate, grounded in the original `health_score`
// property.
func (h Health) Score() float64 {
	if !h.IsHealthy {
		return 0
	}
	score := 100.0
	score -= min(50, float64(h.ConsecutiveFailures)*10)
	switch {
	case h.AvgLatencyMs > 1000:
		score -= 20
	case h.AvgLatencyMs > 500:
		score -= 10
	}
	score -= (1 - h.SuccessRate()) * 30
	if score < 0 {
		return 0
	}
	return score
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// MetricsSink receives provider health scores for export.
type MetricsSink interface {
	SetProviderHealth(provider string, score float64)
}

// Balancer selects among a set of registered providers and tracks
// their rolling health, grounded in the original `LoadBalancer`.
type Balancer struct {
	mu               sync.Mutex
	strategy         Strategy
	ewmaAlpha        float64
	providers        map[string]ProviderConfig
	health           map[string]*Health
	order            []string // registration order, used for deterministic tie-breaking
	roundRobinCursor int
	rng              *rand.Rand
	metrics          MetricsSink
}

// New creates a Balancer using strategy for provider selection.
func New(strategy Strategy, ewmaAlpha float64, metrics MetricsSink) *Balancer {
	if ewmaAlpha <= 0 {
		ewmaAlpha = 0.2
	}
	return &Balancer{
		strategy:  strategy,
		ewmaAlpha: ewmaAlpha,
		providers: make(map[string]ProviderConfig),
		health:    make(map[string]*Health),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		metrics:   metrics,
	}
}

// AddProvider registers a provider, initializing its health as
// healthy.
func (b *Balancer) AddProvider(cfg ProviderConfig) {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.RecoveryThreshold <= 0 {
		cfg.RecoveryThreshold = 2
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.providers[cfg.Name]; !exists {
		b.order = append(b.order, cfg.Name)
	}
	b.providers[cfg.Name] = cfg
	b.health[cfg.Name] = &Health{Name: cfg.Name, IsHealthy: true}
}

// RemoveProvider drops a provider from the pool entirely.
func (b *Balancer) RemoveProvider(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.providers, name)
	delete(b.health, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// HealthyProviders returns the names of every provider currently
// marked healthy.
func (b *Balancer) HealthyProviders() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthyLocked()
}

// healthyLocked returns healthy providers in registration order: ranging
// over b.health directly would randomize iteration order and make
// ROUND_ROBIN and the LEAST_CONNECTIONS/LATENCY_BASED tie-break
// nondeterministic.
func (b *Balancer) healthyLocked() []string {
	out := make([]string, 0, len(b.order))
	for _, name := range b.order {
		if h := b.health[name]; h != nil && h.IsHealthy {
			out = append(out, name)
		}
	}
	return out
}

// Select picks a provider according to the configured strategy.
// Returns ErrNoHealthyProvider if none are healthy.
func (b *Balancer) Select() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	healthy := b.healthyLocked()
	if len(healthy) == 0 {
		return "", ErrNoHealthyProvider
	}

	switch b.strategy {
	case StrategyRoundRobin:
		b.roundRobinCursor = (b.roundRobinCursor + 1) % len(healthy)
		return healthy[b.roundRobinCursor], nil
	case StrategyWeighted:
		return b.selectWeightedLocked(healthy), nil
	case StrategyLeastConnections:
		return b.selectByLocked(healthy, func(h *Health) float64 { return float64(h.ActiveConnections) }), nil
	case StrategyLatencyBased:
		return b.selectByLocked(healthy, func(h *Health) float64 { return h.AvgLatencyMs }), nil
	case StrategyFailover:
		return b.selectFailoverLocked(healthy), nil
	case StrategyRandom:
		return healthy[b.rng.Intn(len(healthy))], nil
	default:
		return healthy[0], nil
	}
}

func (b *Balancer) selectWeightedLocked(healthy []string) string {
	total := 0
	for _, name := range healthy {
		w := b.providers[name].Weight
		if w <= 0 {
			w = 1
		}
		total += w
	}
	pick := b.rng.Intn(total)
	for _, name := range healthy {
		w := b.providers[name].Weight
		if w <= 0 {
			w = 1
		}
		if pick < w {
			return name
		}
		pick -= w
	}
	return healthy[len(healthy)-1]
}

func (b *Balancer) selectByLocked(healthy []string, metric func(*Health) float64) string {
	best := healthy[0]
	bestValue := metric(b.health[best])
	for _, name := range healthy[1:] {
		v := metric(b.health[name])
		if v < bestValue {
			best, bestValue = name, v
		}
	}
	return best
}

func (b *Balancer) selectFailoverLocked(healthy []string) string {
	best := healthy[0]
	bestPriority := b.providers[best].Priority
	for _, name := range healthy[1:] {
		if p := b.providers[name].Priority; p < bestPriority {
			best, bestPriority = name, p
		}
	}
	return best
}

// OnRequestStart records the start of a request against a provider.
func (b *Balancer) OnRequestStart(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.health[provider]
	if !ok {
		return
	}
	h.ActiveConnections++
	h.TotalRequests++
}

// OnRequestSuccess records a successful request's latency, updates the
// EWMA latency estimate, and recovers the provider to healthy once it
// has accumulated enough consecutive successes.
func (b *Balancer) OnRequestSuccess(provider string, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.health[provider]
	if !ok {
		return
	}
	if h.ActiveConnections > 0 {
		h.ActiveConnections--
	}
	h.ConsecutiveSuccesses++
	h.ConsecutiveFailures = 0

	latencyMs := float64(latency.Microseconds()) / 1000.0
	h.AvgLatencyMs = b.ewmaAlpha*latencyMs + (1-b.ewmaAlpha)*h.AvgLatencyMs

	cfg := b.providers[provider]
	if !h.IsHealthy && h.ConsecutiveSuccesses >= cfg.RecoveryThreshold {
		h.IsHealthy = true
	}
	b.reportMetricLocked(provider, h)
}

// OnRequestFailure records a failed request and marks the provider
// unhealthy once consecutive failures reach its threshold.
func (b *Balancer) OnRequestFailure(provider string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.health[provider]
	if !ok {
		return
	}
	if h.ActiveConnections > 0 {
		h.ActiveConnections--
	}
	h.ConsecutiveFailures++
	h.ConsecutiveSuccesses = 0
	h.FailedRequests++

	cfg := b.providers[provider]
	if h.IsHealthy && h.ConsecutiveFailures >= cfg.FailureThreshold {
		h.IsHealthy = false
	}
	b.reportMetricLocked(provider, h)
}

func (b *Balancer) reportMetricLocked(provider string, h *Health) {
	if b.metrics != nil {
		b.metrics.SetProviderHealth(provider, h.Score())
	}
}

// Snapshot returns a copy of a provider's current health, or ok=false
// if it isn't registered.
func (b *Balancer) Snapshot(provider string) (Health, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h, ok := b.health[provider]
	if !ok {
		return Health{}, false
	}
	return *h, true
}

// RunHealthChecks periodically invokes check against every registered
// provider until ctx is done, feeding the result into OnRequestSuccess/
// OnRequestFailure so a provider can recover even without live traffic.
// Grounded in the original module-level `health_check_task`.
func (b *Balancer) RunHealthChecks(ctx context.Context, interval time.Duration, check func(provider string) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, name := range b.providerNames() {
				start := time.Now()
				if err := check(name); err != nil {
					b.OnRequestFailure(name)
				} else {
					b.OnRequestSuccess(name, time.Since(start))
				}
			}
		}
	}
}

func (b *Balancer) providerNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.providers))
	for name := range b.providers {
		names = append(names, name)
	}
	return names
}
