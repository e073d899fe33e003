package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/chain-ledger/internal/circuitbreaker"
	"github.com/chain-ledger/internal/types"
)

// BreakerPriceService guards an upstream price API with a circuit breaker.
// While the breaker is open, lookups resolve to ErrPriceUnavailable so the
// enricher degrades transactions instead of hammering a failing provider.
type BreakerPriceService struct {
	upstream PriceService
	breaker  *circuitbreaker.CircuitBreaker
}

// NewBreakerPriceService wraps upstream with the given breaker.
func NewBreakerPriceService(upstream PriceService, breaker *circuitbreaker.CircuitBreaker) *BreakerPriceService {
	return &BreakerPriceService{upstream: upstream, breaker: breaker}
}

// GetPrice implements PriceService. ErrPriceUnavailable from the upstream is
// a definitive answer, not a provider failure, so it never trips the breaker.
func (s *BreakerPriceService) GetPrice(ctx context.Context, asset types.Asset, currency string, timestamp int64) (PricePoint, error) {
	var point PricePoint
	var unavailable error

	err := s.breaker.Execute(ctx, func() error {
		p, err := s.upstream.GetPrice(ctx, asset, currency, timestamp)
		if err != nil {
			if errors.Is(err, ErrPriceUnavailable) {
				unavailable = err
				return nil
			}
			return err
		}
		point = p
		return nil
	})
	if err != nil {
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
			return PricePoint{}, fmt.Errorf("%w: provider circuit open", ErrPriceUnavailable)
		}
		return PricePoint{}, err
	}
	if unavailable != nil {
		return PricePoint{}, unavailable
	}
	return point, nil
}
