package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the optional Tier-2 distributed cache shared across
// gateway instances, built on the same connection-pool wrapper shape
// used elsewhere in this codebase for rate limiting, retargeted onto
// cache storage.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to addr/db. The connection is lazy; errors
// surface on first use.
func NewRedisTier(addr string, db int) *RedisTier {
	return &RedisTier{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Close releases the underlying connection pool.
func (t *RedisTier) Close() error {
	return t.client.Close()
}

// Ping verifies connectivity, used at startup and by health checks.
func (t *RedisTier) Ping(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTier) encode(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Get returns the decoded value for key, or ok=false on miss.
func (t *RedisTier) Get(ctx context.Context, key string) (any, bool, error) {
	raw, err := t.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache.RedisTier.Get: %w", err)
	}
	var value any
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&value); err != nil {
		return nil, false, nil
	}
	return value, true, nil
}

// Set stores value under key with a TTL.
func (t *RedisTier) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := t.encode(value)
	if err != nil {
		return fmt.Errorf("cache.RedisTier.Set: encode: %w", err)
	}
	if err := t.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("cache.RedisTier.Set: %w", err)
	}
	return nil
}

// Delete removes key.
func (t *RedisTier) Delete(ctx context.Context, key string) error {
	return t.client.Del(ctx, key).Err()
}
