package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Stats tracks hit/miss/write/delete counters for one namespace.
// Grounded in the original `CacheStats` dataclass.
type Stats struct {
	Hits    int64
	Misses  int64
	Writes  int64
	Deletes int64
}

// HitRate returns Hits / (Hits + Misses), or 0 with no traffic.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// MetricsSink receives cache hit/miss counters for export.
type MetricsSink interface {
	RecordCacheHit(tier, namespace string)
	RecordCacheMiss(tier, namespace string)
}

// Config configures a MultiLevelCache instance.
type Config struct {
	DefaultTTL    time.Duration
	MinTTL        time.Duration
	MaxTTL        time.Duration
	MemoryMaxItem int
	MemoryMaxByte int64
	Namespace     string
}

// clampTTL substitutes DefaultTTL for a non-positive ttl, then clamps
// the result to [MinTTL, MaxTTL]. Grounded in the original's
// `ttl = max(min_ttl, min(max_ttl, ttl))`. Either bound is skipped when
// left at its zero value, so callers that never set MinTTL/MaxTTL see
// unchanged behavior.
func (cfg Config) clampTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}
	if cfg.MinTTL > 0 && ttl < cfg.MinTTL {
		ttl = cfg.MinTTL
	}
	if cfg.MaxTTL > 0 && ttl > cfg.MaxTTL {
		ttl = cfg.MaxTTL
	}
	return ttl
}

// MultiLevelCache composes an in-memory tier (always present), a
// durable SQLite tier (always present), and an optional distributed
// Redis tier, grounded in the original `MultiLevelCache`: write-through
// on Set, promote-on-read from a lower tier up to memory.
type MultiLevelCache struct {
	cfg     Config
	memory  *MemoryTier
	sqlite  *SQLiteTier
	redis   *RedisTier // nil when Tier-2 is disabled
	metrics MetricsSink

	sf singleflight.Group

	statsMu sync.Mutex
	stats   map[string]*Stats
}

// New builds a MultiLevelCache. redisTier may be nil to run with only
// the memory and SQLite tiers.
func New(cfg Config, memory *MemoryTier, sqliteTier *SQLiteTier, redisTier *RedisTier, metrics MetricsSink) *MultiLevelCache {
	return &MultiLevelCache{
		cfg:     cfg,
		memory:  memory,
		sqlite:  sqliteTier,
		redis:   redisTier,
		metrics: metrics,
		stats:   make(map[string]*Stats),
	}
}

func (c *MultiLevelCache) statFor(namespace string) *Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	s, ok := c.stats[namespace]
	if !ok {
		s = &Stats{}
		c.stats[namespace] = s
	}
	return s
}

func (c *MultiLevelCache) recordHit(tier, namespace string) {
	c.statFor(namespace).Hits++
	if c.metrics != nil {
		c.metrics.RecordCacheHit(tier, namespace)
	}
}

func (c *MultiLevelCache) recordMiss(tier, namespace string) {
	c.statFor(namespace).Misses++
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(tier, namespace)
	}
}

func estimateSize(value any) int64 {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0
	}
	return int64(len(raw))
}

// Get looks up key in namespace, checking memory, then SQLite, then
// Redis, promoting the value back up to faster tiers as it's found.
func (c *MultiLevelCache) Get(ctx context.Context, key, namespace string) (any, bool) {
	nsKey := Namespaced(namespace, key)

	if entry, ok := c.memory.Get(nsKey); ok {
		c.recordHit("memory", namespace)
		return entry.Value, true
	}

	if c.sqlite != nil {
		if value, ok, err := c.sqlite.Get(ctx, nsKey); err == nil && ok {
			c.recordHit("sqlite", namespace)
			c.memory.Set(nsKey, value, c.cfg.clampTTL(c.cfg.DefaultTTL), nil, namespace, estimateSize(value))
			return value, true
		}
	}

	if c.redis != nil {
		if value, ok, err := c.redis.Get(ctx, nsKey); err == nil && ok {
			c.recordHit("redis", namespace)
			ttl := c.cfg.clampTTL(c.cfg.DefaultTTL)
			if c.sqlite != nil {
				_ = c.sqlite.Set(ctx, nsKey, value, ttl, nil, namespace)
			}
			c.memory.Set(nsKey, value, ttl, nil, namespace, estimateSize(value))
			return value, true
		}
	}

	c.recordMiss("memory", namespace)
	return nil, false
}

// Set writes value under key/namespace to every enabled tier
// (write-through), with a TTL override or the configured default.
func (c *MultiLevelCache) Set(ctx context.Context, key, namespace string, value any, ttl time.Duration, tags []string) error {
	ttl = c.cfg.clampTTL(ttl)
	nsKey := Namespaced(namespace, key)

	c.memory.Set(nsKey, value, ttl, tags, namespace, estimateSize(value))

	if c.sqlite != nil {
		if err := c.sqlite.Set(ctx, nsKey, value, ttl, tags, namespace); err != nil {
			return err
		}
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, nsKey, value, ttl); err != nil {
			return err
		}
	}

	c.statFor(namespace).Writes++
	return nil
}

// Invalidate removes key/namespace from every tier.
func (c *MultiLevelCache) Invalidate(ctx context.Context, key, namespace string) bool {
	nsKey := Namespaced(namespace, key)
	removed := c.memory.Delete(nsKey)
	if c.sqlite != nil {
		if ok, _ := c.sqlite.Delete(ctx, nsKey); ok {
			removed = true
		}
	}
	if c.redis != nil {
		_ = c.redis.Delete(ctx, nsKey)
	}
	if removed {
		c.statFor(namespace).Deletes++
	}
	return removed
}

// InvalidateByTag removes every entry carrying tag from the memory and
// SQLite tiers (Redis carries no tag index, consistent with the
// original, which only tags the file-backed tier).
func (c *MultiLevelCache) InvalidateByTag(ctx context.Context, tag string) int {
	n := c.memory.DeleteByTag(tag)
	if c.sqlite != nil {
		if m, err := c.sqlite.DeleteByTag(ctx, tag); err == nil && m > n {
			n = m
		}
	}
	return n
}

// ClearAll empties the memory and SQLite tiers. The Redis tier is not
// cleared.
func (c *MultiLevelCache) ClearAll(ctx context.Context) {
	c.memory.Clear()
	if c.sqlite != nil {
		_ = c.sqlite.Clear(ctx)
	}
}

// GetOrFetch returns the cached value for key/namespace, or calls
// fetch exactly once per concurrent burst of identical misses
// (singleflight) and caches the result. Grounded in spec testable
// property #7 (request coalescing).
func (c *MultiLevelCache) GetOrFetch(ctx context.Context, key, namespace string, ttl time.Duration, tags []string, fetch func(ctx context.Context) (any, error)) (any, error) {
	if value, ok := c.Get(ctx, key, namespace); ok {
		return value, nil
	}

	sfKey := Namespaced(namespace, key)
	value, err, _ := c.sf.Do(sfKey, func() (any, error) {
		// Re-check: another goroutine may have populated the cache
		// while we were queued behind the singleflight call.
		if value, ok := c.Get(ctx, key, namespace); ok {
			return value, nil
		}
		value, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, namespace, value, ttl, tags); err != nil {
			return nil, err
		}
		return value, nil
	})
	return value, err
}

// BatchGet returns every cached value found among keys in namespace.
// Missing keys are simply absent from the result, matching the
// original's `batch_get`.
func (c *MultiLevelCache) BatchGet(ctx context.Context, keys []string, namespace string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := c.Get(ctx, k, namespace); ok {
			out[k] = v
		}
	}
	return out
}

// BatchSet writes every key/value pair with a shared ttl and tags.
func (c *MultiLevelCache) BatchSet(ctx context.Context, values map[string]any, namespace string, ttl time.Duration, tags []string) error {
	for k, v := range values {
		if err := c.Set(ctx, k, namespace, v, ttl, tags); err != nil {
			return err
		}
	}
	return nil
}

// Stats returns a snapshot of per-namespace counters.
func (c *MultiLevelCache) Stats() map[string]Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := make(map[string]Stats, len(c.stats))
	for k, v := range c.stats {
		out[k] = *v
	}
	return out
}

// RunSweeper periodically clears expired entries from memory and
// SQLite until ctx is done, mirroring the background maintenance task
// the original spawns via its own scheduler.
func (c *MultiLevelCache) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.memory.SweepExpired()
			if c.sqlite != nil {
				_, _ = c.sqlite.CleanupExpired(ctx)
			}
		}
	}
}
