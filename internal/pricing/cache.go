package pricing

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// MemoryCache is an in-process Cache for tests and single-node deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	point     PricePoint
	expiresAt time.Time
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry)}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) (PricePoint, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || (!entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt)) {
		return PricePoint{}, false, nil
	}
	return entry.point, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, point PricePoint, ttl time.Duration) error {
	entry := memoryEntry{point: point}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

// CachingPriceService wraps a PriceService with a cache and an outbound rate
// limit. Cache hits bypass the limiter entirely.
type CachingPriceService struct {
	upstream PriceService
	cache    Cache
	limiter  *rate.Limiter
	ttl      time.Duration
	logger   *logging.Logger
}

// CachingPriceServiceConfig holds construction parameters.
type CachingPriceServiceConfig struct {
	Upstream PriceService
	Cache    Cache
	// TTL bounds cache entries; zero means no expiry.
	TTL time.Duration
	// RequestsPerSecond and Burst bound upstream lookups. Zero disables
	// limiting.
	RequestsPerSecond float64
	Burst             int
}

// NewCachingPriceService creates the caching decorator.
func NewCachingPriceService(cfg CachingPriceServiceConfig) *CachingPriceService {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return &CachingPriceService{
		upstream: cfg.Upstream,
		cache:    cfg.Cache,
		limiter:  limiter,
		ttl:      cfg.TTL,
		logger:   logging.WithField("component", "pricing"),
	}
}

// GetPrice implements PriceService.
func (s *CachingPriceService) GetPrice(ctx context.Context, asset types.Asset, currency string, timestamp int64) (PricePoint, error) {
	key := CacheKey(asset, currency, timestamp)

	if s.cache != nil {
		point, ok, err := s.cache.Get(ctx, key)
		if err != nil {
			// A broken cache degrades to upstream lookups.
			s.logger.WithError(err).Warn("price cache read failed")
		} else if ok {
			return point, nil
		}
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return PricePoint{}, err
		}
	}

	point, err := s.upstream.GetPrice(ctx, asset, currency, timestamp)
	if err != nil {
		return PricePoint{}, err
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, point, s.ttl); err != nil {
			s.logger.WithError(err).Warn("price cache write failed")
		}
	}
	return point, nil
}
