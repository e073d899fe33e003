// Package pricing attaches historical fiat valuations to unified
// transactions. Prices are looked up per asset at the transaction timestamp,
// cached, and never recomputed downstream: the tax engine consumes the
// FiatValue fields verbatim.
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chain-ledger/internal/types"
)

// ErrPriceUnavailable is returned when no source can price an asset at the
// requested time.
var ErrPriceUnavailable = fmt.Errorf("price unavailable")

// PricePoint is one historical price observation.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Currency  string          `json:"currency"`
	Timestamp int64           `json:"timestamp"`
	Source    string          `json:"source"`
}

// PriceService resolves the fiat price of an asset at a point in time.
type PriceService interface {
	// GetPrice returns the price of one whole unit of the asset in the given
	// currency at the given unix timestamp.
	GetPrice(ctx context.Context, asset types.Asset, currency string, timestamp int64) (PricePoint, error)
}

// Cache stores price points keyed by (asset, currency, hour bucket).
// Historical prices are immutable, so entries never need invalidation.
type Cache interface {
	Get(ctx context.Context, key string) (PricePoint, bool, error)
	Set(ctx context.Context, key string, point PricePoint, ttl time.Duration) error
}

// CacheKey buckets a lookup to the hour. Sub-hour precision buys nothing for
// tax valuation and would defeat caching.
func CacheKey(asset types.Asset, currency string, timestamp int64) string {
	bucket := timestamp - timestamp%3600
	return fmt.Sprintf("price:%s:%s:%d", asset.Key(), currency, bucket)
}
