package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalancer_RoundRobinCyclesProviders(t *testing.T) {
	b := New(StrategyRoundRobin, 0.2, nil)
	b.AddProvider(ProviderConfig{Name: "a"})
	b.AddProvider(ProviderConfig{Name: "b"})

	seen := map[string]bool{}
	for i := 0; i < 4; i++ {
		p, err := b.Select()
		require.NoError(t, err)
		seen[p] = true
	}
	assert.Len(t, seen, 2)
}

func TestBalancer_FailoverMarksUnhealthyAfterThreshold(t *testing.T) {
	b := New(StrategyFailover, 0.2, nil)
	b.AddProvider(ProviderConfig{Name: "primary", Priority: 0, FailureThreshold: 2, RecoveryThreshold: 1})
	b.AddProvider(ProviderConfig{Name: "backup", Priority: 1, FailureThreshold: 2, RecoveryThreshold: 1})

	p, err := b.Select()
	require.NoError(t, err)
	assert.Equal(t, "primary", p)

	b.OnRequestFailure("primary")
	b.OnRequestFailure("primary")

	p, err = b.Select()
	require.NoError(t, err)
	assert.Equal(t, "backup", p)
}

func TestBalancer_RecoversAfterSuccesses(t *testing.T) {
	b := New(StrategyFailover, 0.2, nil)
	b.AddProvider(ProviderConfig{Name: "primary", Priority: 0, FailureThreshold: 1, RecoveryThreshold: 2})
	b.AddProvider(ProviderConfig{Name: "backup", Priority: 1})

	b.OnRequestFailure("primary")
	h, _ := b.Snapshot("primary")
	assert.False(t, h.IsHealthy)

	b.OnRequestSuccess("primary", 10*time.Millisecond)
	b.OnRequestSuccess("primary", 10*time.Millisecond)
	h, _ = b.Snapshot("primary")
	assert.True(t, h.IsHealthy)
}

func TestBalancer_NoHealthyProvidersErrors(t *testing.T) {
	b := New(StrategyRoundRobin, 0.2, nil)
	b.AddProvider(ProviderConfig{Name: "only", FailureThreshold: 1})
	b.OnRequestFailure("only")

	_, err := b.Select()
	assert.ErrorIs(t, err, ErrNoHealthyProvider)
}

func TestBalancer_LatencyBasedPicksLowestEWMA(t *testing.T) {
	b := New(StrategyLatencyBased, 1.0, nil) // alpha=1 -> EWMA tracks latest sample exactly
	b.AddProvider(ProviderConfig{Name: "slow"})
	b.AddProvider(ProviderConfig{Name: "fast"})

	b.OnRequestSuccess("slow", 500*time.Millisecond)
	b.OnRequestSuccess("fast", 10*time.Millisecond)

	p, err := b.Select()
	require.NoError(t, err)
	assert.Equal(t, "fast", p)
}

func TestHealth_ScoreDropsWithFailuresAndLatency(t *testing.T) {
	healthy := Health{IsHealthy: true, TotalRequests: 10, FailedRequests: 0, AvgLatencyMs: 50}
	assert.Equal(t, 100.0, healthy.Score())

	degraded := Health{IsHealthy: true, ConsecutiveFailures: 3, TotalRequests: 10, FailedRequests: 5, AvgLatencyMs: 1200}
	assert.Less(t, degraded.Score(), 60.0)

	unhealthy := Health{IsHealthy: false}
	assert.Equal(t, 0.0, unhealthy.Score())
}
