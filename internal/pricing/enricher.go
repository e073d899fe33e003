package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// Enricher attaches fiat values to every transfer amount and fee of a
// transaction. Valuation uses the transaction timestamp; transactions
// without one cannot be enriched.
type Enricher struct {
	prices   PriceService
	currency string
	logger   *logging.Logger
}

// NewEnricher creates an Enricher valuing in the given currency.
func NewEnricher(prices PriceService, currency string) *Enricher {
	return &Enricher{
		prices:   prices,
		currency: currency,
		logger:   logging.WithField("component", "enricher"),
	}
}

// Enrich mutates tx in place. A missing price leaves the FiatValue nil and
// flags the transaction for review; it never fails the transaction.
func (e *Enricher) Enrich(ctx context.Context, tx *types.UnifiedTransaction) error {
	if tx.Timestamp == nil {
		tx.NeedsReview = true
		return nil
	}
	ts := *tx.Timestamp

	missing := false
	for i := range tx.Transfers {
		if tx.Transfers[i].Amount.FiatValue != nil {
			continue
		}
		value, err := e.value(ctx, tx.Transfers[i].Amount, ts)
		if err != nil {
			if errors.Is(err, ErrPriceUnavailable) {
				missing = true
				continue
			}
			return err
		}
		tx.Transfers[i].Amount.FiatValue = value
	}

	if tx.Fee.Amount.FiatValue == nil && !tx.Fee.Amount.IsZero() {
		value, err := e.value(ctx, tx.Fee.Amount, ts)
		if err != nil {
			if errors.Is(err, ErrPriceUnavailable) {
				missing = true
			} else {
				return err
			}
		} else {
			tx.Fee.Amount.FiatValue = value
		}
	}

	if missing {
		tx.NeedsReview = true
		e.logger.WithFields(map[string]interface{}{
			"txId":  tx.ID,
			"chain": string(tx.Chain),
		}).Warn("transaction flagged for review: missing prices")
	}
	return nil
}

// value prices one amount at the given timestamp.
func (e *Enricher) value(ctx context.Context, amount types.Amount, timestamp int64) (*types.FiatValue, error) {
	point, err := e.prices.GetPrice(ctx, amount.Asset, e.currency, timestamp)
	if err != nil {
		return nil, err
	}

	quantity, err := DecimalAmount(amount)
	if err != nil {
		return nil, err
	}

	return &types.FiatValue{
		Currency:       point.Currency,
		Amount:         quantity.Mul(point.Price).String(),
		Price:          point.Price.String(),
		PriceTimestamp: point.Timestamp,
		PriceSource:    point.Source,
	}, nil
}

// DecimalAmount converts a raw chain-unit amount into a whole-unit decimal.
func DecimalAmount(amount types.Amount) (decimal.Decimal, error) {
	raw, ok := new(big.Int).SetString(amount.Raw, 10)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("malformed raw amount %q", amount.Raw)
	}
	return decimal.NewFromBigInt(raw, -int32(amount.Asset.Decimals)), nil
}
