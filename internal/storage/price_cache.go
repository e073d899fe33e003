package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/chain-ledger/internal/pricing"
)

// RedisPriceCache is the Redis-backed pricing.Cache. Historical prices are
// immutable, so entries carry whatever TTL the caller picks purely to bound
// growth, never for correctness.
type RedisPriceCache struct {
	cache *RedisCache
}

// NewRedisPriceCache creates a price cache on an existing Redis connection.
func NewRedisPriceCache(cache *RedisCache) *RedisPriceCache {
	return &RedisPriceCache{cache: cache}
}

var _ pricing.Cache = (*RedisPriceCache)(nil)

// Get implements pricing.Cache.
func (c *RedisPriceCache) Get(ctx context.Context, key string) (pricing.PricePoint, bool, error) {
	raw, err := c.cache.Get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return pricing.PricePoint{}, false, nil
	}
	if err != nil {
		return pricing.PricePoint{}, false, fmt.Errorf("failed to get cached price: %w", err)
	}

	var point pricing.PricePoint
	if err := json.Unmarshal([]byte(raw), &point); err != nil {
		return pricing.PricePoint{}, false, fmt.Errorf("failed to decode cached price: %w", err)
	}
	return point, true, nil
}

// Set implements pricing.Cache.
func (c *RedisPriceCache) Set(ctx context.Context, key string, point pricing.PricePoint, ttl time.Duration) error {
	raw, err := json.Marshal(point)
	if err != nil {
		return fmt.Errorf("failed to encode price: %w", err)
	}
	if err := c.cache.Set(ctx, key, string(raw), ttl); err != nil {
		return fmt.Errorf("failed to cache price: %w", err)
	}
	return nil
}
