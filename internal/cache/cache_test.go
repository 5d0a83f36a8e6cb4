package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *MultiLevelCache {
	t.Helper()
	sqliteTier, err := OpenSQLiteTier(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteTier.Close() })

	return New(Config{DefaultTTL: time.Minute}, NewMemoryTier(1000, 1<<20), sqliteTier, nil, nil)
}

func TestMultiLevelCache_SetGetInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "price:btc", "default", 42.0, time.Minute, nil))

	v, ok := c.Get(ctx, "price:btc", "default")
	require.True(t, ok)
	assert.Equal(t, 42.0, v)

	assert.True(t, c.Invalidate(ctx, "price:btc", "default"))
	_, ok = c.Get(ctx, "price:btc", "default")
	assert.False(t, ok)
}

func TestMultiLevelCache_PromotesFromSQLiteToMemory(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "default", "v", time.Minute, nil))
	c.memory.Clear() // force the next Get to come from SQLite

	v, ok := c.Get(ctx, "k", "default")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	// Promoted back into memory by the Get above.
	_, ok = c.memory.Get(Namespaced("default", "k"))
	assert.True(t, ok)
}

func TestMultiLevelCache_GetOrFetch_CoalescesConcurrentMisses(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	var calls int64
	fetch := func(ctx context.Context) (any, error) {
		atomic.AddInt64(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return "fetched", nil
	}

	results := make(chan any, 5)
	for i := 0; i < 5; i++ {
		go func() {
			v, err := c.GetOrFetch(ctx, "coalesced", "default", time.Minute, nil, fetch)
			require.NoError(t, err)
			results <- v
		}()
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, "fetched", <-results)
	}
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestMultiLevelCache_InvalidateByTag(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", "default", 1, time.Minute, []string{"prices"}))
	require.NoError(t, c.Set(ctx, "b", "default", 2, time.Minute, []string{"prices"}))
	require.NoError(t, c.Set(ctx, "c", "default", 3, time.Minute, []string{"news"}))

	n := c.InvalidateByTag(ctx, "prices")
	assert.GreaterOrEqual(t, n, 2)

	_, ok := c.Get(ctx, "c", "default")
	assert.True(t, ok)
}

func TestMultiLevelCache_SetClampsTTLToConfiguredBounds(t *testing.T) {
	sqliteTier, err := OpenSQLiteTier(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteTier.Close() })

	c := New(Config{
		DefaultTTL: time.Minute,
		MinTTL:     10 * time.Second,
		MaxTTL:     time.Hour,
	}, NewMemoryTier(1000, 1<<20), sqliteTier, nil, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "below-min", "default", 1, 2*time.Second, nil))
	entry, ok := c.memory.Get(Namespaced("default", "below-min"))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(10*time.Second), entry.ExpiresAt, 2*time.Second)

	require.NoError(t, c.Set(ctx, "above-max", "default", 1, 24*time.Hour, nil))
	entry, ok = c.memory.Get(Namespaced("default", "above-max"))
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Hour), entry.ExpiresAt, 2*time.Second)
}

func TestMultiLevelCache_Stats(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, _ = c.Get(ctx, "missing", "default")
	require.NoError(t, c.Set(ctx, "present", "default", 1, time.Minute, nil))
	_, _ = c.Get(ctx, "present", "default")

	stats := c.Stats()["default"]
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Writes)
}
