package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/iruldev/apigatewaycore/internal/apierrors"
	"github.com/iruldev/apigatewaycore/internal/breaker"
	"github.com/iruldev/apigatewaycore/internal/gateway"
)

// API holds the dependencies the admin handlers render, grounded in the
// original's `to_dict()`/`get_stats()` introspection surface.
type API struct {
	Gateway  *gateway.Gateway
	Breakers *breaker.Registry
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, err error) {
	p := apierrors.ToProblem(err)
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

// Health reports aggregate and per-provider health, grounded in the
// original's `health_check()`.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Gateway.HealthCheck())
}

// Stats reports aggregate gateway counters, grounded in the original's
// `get_stats()`.
func (a *API) Stats(w http.ResponseWriter, r *http.Request) {
	stats := a.Gateway.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"total_requests":      stats.TotalRequests,
		"successful_requests": stats.SuccessfulRequests,
		"failed_requests":     stats.FailedRequests,
		"success_rate":        stats.SuccessRate(),
		"avg_latency_ms":      stats.AvgLatencyMs(),
		"cache": map[string]any{
			"hits":   stats.CacheHits,
			"misses": stats.CacheMisses,
		},
		"circuit_breaks":       stats.CircuitBreaks,
		"requests_by_provider": stats.RequestsByProvider,
		"errors_by_kind":       stats.ErrorsByKind,
	})
}

// Providers lists every registered provider's status, grounded in the
// original's `to_dict()["providers"]`.
func (a *API) Providers(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for name, b := range a.Breakers.All() {
		spec, ok := a.Gateway.Provider(name)
		if !ok {
			continue
		}
		out[name] = map[string]any{
			"base_url":      spec.BaseURL,
			"disabled":      spec.Disabled,
			"status":        a.Gateway.ProviderStatus(name),
			"weight":        spec.Weight,
			"priority":      spec.Priority,
			"breaker_state": b.State(),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// ForceOpenBreaker manually trips a provider's circuit breaker,
// grounded in the original's `force_open()`.
func (a *API) ForceOpenBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := a.Gateway.Provider(name); !ok {
		writeProblem(w, apierrors.New(apierrors.KindUnknownProvider, "unknown provider: "+name))
		return
	}
	a.Breakers.GetOrCreate(name).ForceOpen()
	writeJSON(w, http.StatusOK, map[string]any{"provider": name, "state": "open"})
}

// ResetBreaker clears a provider's circuit breaker back to closed,
// grounded in the original's `reset()`.
func (a *API) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, ok := a.Gateway.Provider(name); !ok {
		writeProblem(w, apierrors.New(apierrors.KindUnknownProvider, "unknown provider: "+name))
		return
	}
	a.Breakers.GetOrCreate(name).Reset()
	writeJSON(w, http.StatusOK, map[string]any{"provider": name, "state": "closed"})
}
