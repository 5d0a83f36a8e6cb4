package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold:   3,
		SuccessThreshold:   1,
		OpenDuration:       50 * time.Millisecond,
		HalfOpenProbeLimit: 1,
		Interval:           0,
	}
}

func TestBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	b := New("provider-a", testConfig(), nil, nil)

	failing := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), failing)
		assert.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.State())

	_, err := b.Execute(context.Background(), func() (any, error) { return "ok", nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit_open")
}

func TestBreaker_HalfOpenAfterTimeout(t *testing.T) {
	b := New("provider-b", testConfig(), nil, nil)
	failing := func() (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), failing)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	result, err := b.Execute(context.Background(), func() (any, error) { return "recovered", nil })
	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenRequiresConsecutiveSuccesses(t *testing.T) {
	cfg := Config{
		FailureThreshold:   3,
		SuccessThreshold:   3,
		OpenDuration:       50 * time.Millisecond,
		HalfOpenProbeLimit: 1,
	}
	b := New("provider-d", cfg, nil, nil)
	failing := func() (any, error) { return nil, errors.New("boom") }
	succeeding := func() (any, error) { return "ok", nil }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), failing)
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	// First and second successful probes must not close the breaker:
	// SuccessThreshold (3) exceeds HalfOpenProbeLimit (1), so gobreaker's
	// own conflated MaxRequests semantics must not be relied on here.
	_, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenFailureResetsSuccessCounter(t *testing.T) {
	cfg := Config{
		FailureThreshold:   3,
		SuccessThreshold:   2,
		OpenDuration:       50 * time.Millisecond,
		HalfOpenProbeLimit: 1,
	}
	b := New("provider-e", cfg, nil, nil)
	failing := func() (any, error) { return nil, errors.New("boom") }
	succeeding := func() (any, error) { return "ok", nil }

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(context.Background(), failing)
	}
	require.Equal(t, StateOpen, b.State())
	time.Sleep(60 * time.Millisecond)

	_, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())

	_, err = b.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	_, err = b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, b.State())
	_, err = b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ForceOpenAndReset(t *testing.T) {
	b := New("provider-c", testConfig(), nil, nil)

	b.ForceOpen()
	assert.Equal(t, StateOpen, b.State())

	_, err := b.Execute(context.Background(), func() (any, error) { return "ok", nil })
	assert.Error(t, err)

	b.Reset()
	assert.Equal(t, StateClosed, b.State())

	result, err := b.Execute(context.Background(), func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestRegistry_GetOrCreateIsStable(t *testing.T) {
	reg := NewRegistry(testConfig(), nil, nil)

	a1 := reg.GetOrCreate("svc")
	a2 := reg.GetOrCreate("svc")
	assert.Same(t, a1, a2)

	b := reg.GetOrCreate("other")
	assert.NotSame(t, a1, b)
}
