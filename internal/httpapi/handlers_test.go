package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iruldev/apigatewaycore/internal/balancer"
	"github.com/iruldev/apigatewaycore/internal/breaker"
	"github.com/iruldev/apigatewaycore/internal/cache"
	"github.com/iruldev/apigatewaycore/internal/events"
	"github.com/iruldev/apigatewaycore/internal/gateway"
)

func newTestAPI(t *testing.T) (*API, chi.Router) {
	t.Helper()
	registry := breaker.NewRegistry(breaker.Config{
		FailureThreshold: 5, SuccessThreshold: 2, OpenDuration: time.Minute, HalfOpenProbeLimit: 1,
	}, nil, nil)
	memory := cache.NewMemoryTier(1000, 1<<20)
	mlc := cache.New(cache.Config{DefaultTTL: time.Minute}, memory, nil, nil, nil)
	lb := balancer.New(balancer.StrategyRoundRobin, 0.2, nil)
	bus := events.New(100, 100, nil, nil)
	gw := gateway.New(registry, mlc, lb, nil, bus, nil)
	require.NoError(t, gw.Start(context.Background()))
	require.NoError(t, gw.RegisterProvider(gateway.ProviderSpec{Name: "upstream", BaseURL: "http://example.invalid"}))

	api := &API{Gateway: gw, Breakers: registry}
	router := NewRouter(slog.Default(), api, 0)
	return api, router
}

func TestHealth_ReportsProviders(t *testing.T) {
	_, router := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["total_providers"])
}

func TestStats_ReturnsAggregateCounters(t *testing.T) {
	_, router := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "total_requests")
	assert.Contains(t, body, "cache")
}

func TestForceOpenAndResetBreaker(t *testing.T) {
	api, router := newTestAPI(t)

	req := httptest.NewRequest(http.MethodPost, "/providers/upstream/breaker/force-open", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breaker.StateOpen, api.Breakers.GetOrCreate("upstream").State())

	req = httptest.NewRequest(http.MethodPost, "/providers/upstream/breaker/reset", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, breaker.StateClosed, api.Breakers.GetOrCreate("upstream").State())
}

func TestForceOpenUnknownProviderReturnsProblem(t *testing.T) {
	_, router := newTestAPI(t)
	req := httptest.NewRequest(http.MethodPost, "/providers/nope/breaker/force-open", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}
