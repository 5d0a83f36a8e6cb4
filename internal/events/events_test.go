package events

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDispatchesInPriorityOrder(t *testing.T) {
	bus := New(100, 100, nil, nil)
	var order []string

	Subscribe(bus, "low", []Type{TypeCacheHit}, PriorityLow, nil, func(e Event) {
		order = append(order, "low")
	})
	Subscribe(bus, "high", []Type{TypeCacheHit}, PriorityHigh, nil, func(e Event) {
		order = append(order, "high")
	})
	Subscribe(bus, "normal", []Type{TypeCacheHit}, PriorityNormal, nil, func(e Event) {
		order = append(order, "normal")
	})

	delivered := bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)
	require.Equal(t, 3, delivered)
	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestBus_WildcardSubscriberReceivesEverything(t *testing.T) {
	bus := New(100, 100, nil, nil)
	seen := 0
	Subscribe(bus, "all", []Type{"*"}, PriorityNormal, nil, func(e Event) { seen++ })

	bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)
	bus.Emit(TypeCacheMiss, nil, "test", PriorityNormal)
	assert.Equal(t, 2, seen)
}

func TestBus_FilterExcludesNonMatchingEvents(t *testing.T) {
	bus := New(100, 100, nil, nil)
	var received []Event
	Subscribe(bus, "filtered", []Type{TypeRequestFailed}, PriorityNormal,
		func(e Event) bool { return e.Data["provider"] == "openai" },
		func(e Event) { received = append(received, e) },
	)

	bus.Emit(TypeRequestFailed, map[string]any{"provider": "anthropic"}, "test", PriorityNormal)
	bus.Emit(TypeRequestFailed, map[string]any{"provider": "openai"}, "test", PriorityNormal)

	require.Len(t, received, 1)
	assert.Equal(t, "openai", received[0].Data["provider"])
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New(100, 100, nil, nil)
	count := 0
	name := Subscribe(bus, "sub", []Type{TypeCacheHit}, PriorityNormal, nil, func(e Event) { count++ })

	bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)
	require.True(t, bus.Unsubscribe(name))
	bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)

	assert.Equal(t, 1, count)
	assert.False(t, bus.Unsubscribe("nonexistent"))
}

func TestBus_PauseQueuesAndResumeDrains(t *testing.T) {
	bus := New(100, 100, nil, nil)
	count := 0
	Subscribe(bus, "sub", []Type{TypeCacheHit}, PriorityNormal, nil, func(e Event) { count++ })

	bus.Pause()
	delivered := bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)
	assert.Equal(t, 0, delivered)
	assert.Equal(t, 0, count)
	assert.Equal(t, 1, bus.Stats().QueueSize)

	processed := bus.Resume()
	assert.Equal(t, 1, processed)
	assert.Equal(t, 1, count)
	assert.Equal(t, 0, bus.Stats().QueueSize)
}

func TestBus_HistoryIsBoundedAndFilterable(t *testing.T) {
	bus := New(2, 100, nil, nil)
	bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)
	bus.Emit(TypeCacheMiss, nil, "test", PriorityNormal)
	bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)

	all := bus.History(nil, 0)
	require.Len(t, all, 2, "history must be truncated to maxHistory")

	hits := bus.History([]Type{TypeCacheHit}, 0)
	for _, e := range hits {
		assert.Equal(t, TypeCacheHit, e.Type)
	}
}

func TestBus_HandlerPanicIsIsolated(t *testing.T) {
	bus := New(100, 100, nil, nil)
	calledSecond := false
	Subscribe(bus, "panics", []Type{TypeCacheHit}, PriorityHigh, nil, func(e Event) {
		panic("boom")
	})
	Subscribe(bus, "second", []Type{TypeCacheHit}, PriorityLow, nil, func(e Event) {
		calledSecond = true
	})

	require.NotPanics(t, func() {
		bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)
	})
	assert.True(t, calledSecond, "a panicking handler must not prevent later handlers from running")
}

func TestBus_StatsReflectsSubscriptionsAndHistory(t *testing.T) {
	bus := New(100, 100, nil, nil)
	Subscribe(bus, "a", []Type{TypeCacheHit}, PriorityNormal, nil, func(e Event) {})
	Subscribe(bus, "b", []Type{TypeCacheMiss}, PriorityNormal, nil, func(e Event) {})
	bus.Emit(TypeCacheHit, nil, "test", PriorityNormal)

	stats := bus.Stats()
	assert.Equal(t, 2, stats.TotalHandlers)
	assert.Equal(t, 1, stats.HistorySize)
	assert.False(t, stats.Paused)
}

func TestStore_AppendAndReplay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store, err := OpenStore(path, 10)
	require.NoError(t, err)

	require.NoError(t, store.Append(New(TypeCacheHit, map[string]any{"n": float64(1)}, "test", PriorityNormal)))
	require.NoError(t, store.Append(New(TypeCacheMiss, map[string]any{"n": float64(2)}, "test", PriorityNormal)))

	bus := New(100, 100, nil, nil)
	var replayed []Type
	Subscribe(bus, "all", []Type{"*"}, PriorityNormal, nil, func(e Event) { replayed = append(replayed, e.Type) })

	n, err := store.Replay(bus)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []Type{TypeCacheHit, TypeCacheMiss}, replayed)
}

func TestStore_CompactsPastMaxItems(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store, err := OpenStore(path, 2)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(New(TypeCacheHit, nil, "test", PriorityNormal)))
	}

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
	assert.LessOrEqual(t, store.count, 2)
}

func TestOpenStore_CountsExistingEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")

	store, err := OpenStore(path, 10)
	require.NoError(t, err)
	require.NoError(t, store.Append(New(TypeCacheHit, nil, "test", PriorityNormal)))

	reopened, err := OpenStore(path, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, reopened.count)
	_ = store
}
