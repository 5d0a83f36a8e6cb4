package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iruldev/apigatewaycore/internal/balancer"
	"github.com/iruldev/apigatewaycore/internal/breaker"
	"github.com/iruldev/apigatewaycore/internal/cache"
	"github.com/iruldev/apigatewaycore/internal/events"
)

func newTestGateway(t *testing.T, strategy balancer.Strategy) *Gateway {
	t.Helper()
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		OpenDuration:       50 * time.Millisecond,
		HalfOpenProbeLimit: 1,
	}, nil, nil)

	memory := cache.NewMemoryTier(1000, 1<<20)
	mlc := cache.New(cache.Config{DefaultTTL: time.Minute, Namespace: "gateway"}, memory, nil, nil, nil)

	lb := balancer.New(strategy, 0.2, nil)
	bus := events.New(100, 100, nil, nil)

	return New(registry, mlc, lb, nil, bus, nil)
}

func newBackend(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
}

func TestGateway_GetCachesSuccessfulResponse(t *testing.T) {
	backend := newBackend(t, 200, map[string]any{"value": 42.0})
	defer backend.Close()

	g := newTestGateway(t, balancer.StrategyRoundRobin)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)

	require.NoError(t, g.RegisterProvider(ProviderSpec{
		Name: "upstream", BaseURL: backend.URL, RetryAttempts: 1,
	}))

	res1, err := g.Get(ctx, "/thing", Options{})
	require.NoError(t, err)
	assert.False(t, res1.Cached)
	assert.Equal(t, 200, res1.Status)

	res2, err := g.Get(ctx, "/thing", Options{})
	require.NoError(t, err)
	assert.True(t, res2.Cached)

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
}

func TestGateway_SkipCacheBypassesLookupAndFill(t *testing.T) {
	backend := newBackend(t, 200, map[string]any{"value": 1.0})
	defer backend.Close()

	g := newTestGateway(t, balancer.StrategyRoundRobin)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)

	require.NoError(t, g.RegisterProvider(ProviderSpec{Name: "upstream", BaseURL: backend.URL, RetryAttempts: 1}))

	_, err := g.Get(ctx, "/thing", Options{SkipCache: true})
	require.NoError(t, err)

	res, err := g.Get(ctx, "/thing", Options{})
	require.NoError(t, err)
	assert.False(t, res.Cached, "a skip_cache request must never populate the cache")
}

func TestGateway_UnknownProviderNameFails(t *testing.T) {
	g := newTestGateway(t, balancer.StrategyRoundRobin)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)

	_, err := g.Get(ctx, "/x", Options{ProviderName: "nope"})
	require.Error(t, err)
}

func TestGateway_NoHealthyProviderPropagates(t *testing.T) {
	g := newTestGateway(t, balancer.StrategyRoundRobin)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)

	_, err := g.Get(ctx, "/x", Options{})
	require.Error(t, err)
}

func TestGateway_RetriesSameProviderOnFailure(t *testing.T) {
	attempts := 0
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(500)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "boom"})
			return
		}
		w.WriteHeader(200)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer backend.Close()

	g := newTestGateway(t, balancer.StrategyRoundRobin)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)

	require.NoError(t, g.RegisterProvider(ProviderSpec{
		Name: "flaky", BaseURL: backend.URL, RetryAttempts: 3, RetryBaseDelay: time.Millisecond,
	}))

	res, err := g.Post(ctx, "/x", map[string]any{"a": 1}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 200, res.Status)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "flaky", res.Provider)
}

func TestGateway_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer backend.Close()

	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 1, SuccessThreshold: 1, OpenDuration: time.Minute, HalfOpenProbeLimit: 1,
	}, nil, nil)
	memory := cache.NewMemoryTier(1000, 1<<20)
	mlc := cache.New(cache.Config{DefaultTTL: time.Minute}, memory, nil, nil, nil)
	lb := balancer.New(balancer.StrategyRoundRobin, 0.2, nil)
	bus := events.New(100, 100, nil, nil)
	g := New(registry, mlc, lb, nil, bus, nil)

	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)
	require.NoError(t, g.RegisterProvider(ProviderSpec{Name: "failing", BaseURL: backend.URL, RetryAttempts: 1}))

	_, err := g.Get(ctx, "/x", Options{})
	require.Error(t, err)

	_, err = g.Get(ctx, "/x", Options{})
	require.Error(t, err)

	stats := g.Stats()
	assert.GreaterOrEqual(t, stats.CircuitBreaks, int64(1))
}

func TestGateway_RequestBeforeStartFails(t *testing.T) {
	g := newTestGateway(t, balancer.StrategyRoundRobin)
	_, err := g.Get(context.Background(), "/x", Options{})
	require.Error(t, err)
}

func TestGateway_HealthCheckReportsProviderStatus(t *testing.T) {
	backend := newBackend(t, 200, map[string]any{})
	defer backend.Close()

	g := newTestGateway(t, balancer.StrategyRoundRobin)
	ctx := context.Background()
	require.NoError(t, g.Start(ctx))
	defer g.Stop(ctx)
	require.NoError(t, g.RegisterProvider(ProviderSpec{Name: "up", BaseURL: backend.URL, RetryAttempts: 1}))

	health := g.HealthCheck()
	assert.Equal(t, 1, health["total_providers"])
	assert.Equal(t, 1, health["healthy_providers"])
}
