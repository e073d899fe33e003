package tax

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/ledger"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/pricing"
	"github.com/chain-ledger/internal/types"
)

// Engine applies the tax treatment of a categorized transaction to the lot
// ledger. Disposals consume lots and attach CostBasisInfo; acquisitions and
// income open lots at the transfer's fiat value. All I/O-heavy work (price
// enrichment, chain fetches) must have completed before Process runs.
type Engine struct {
	ledger *ledger.Ledger
	method types.CostBasisMethod
	logger *logging.Logger
}

// EngineConfig holds Engine construction parameters.
type EngineConfig struct {
	Ledger *ledger.Ledger
	// Method is the default lot-matching method, MethodFIFO when empty.
	Method types.CostBasisMethod
	Logger *logging.Logger
}

// NewEngine creates an Engine.
func NewEngine(cfg EngineConfig) *Engine {
	method := cfg.Method
	if method == "" {
		method = types.MethodFIFO
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithField("component", "tax_engine")
	}
	return &Engine{ledger: cfg.Ledger, method: method, logger: logger}
}

// Process mutates the transaction with the cost-basis results of its tax
// category. Missing prices or uncoverable disposals flag the transaction for
// review instead of failing; the returned error is reserved for storage
// faults.
func (e *Engine) Process(ctx context.Context, walletID string, userAddresses []string, tx *types.UnifiedTransaction) error {
	if tx.Status != types.StatusConfirmed {
		return nil
	}

	category := types.CategoryUnknown
	if tx.TaxCategory != nil {
		category = *tx.TaxCategory
	}

	users := newAddressSet(userAddresses)

	switch {
	case category.IsDisposal():
		if err := e.processDisposals(ctx, walletID, users, tx); err != nil {
			return err
		}
		// the received side of a swap opens a lot at swap-time value
		if category == types.CategorySwap {
			return e.processAcquisitions(ctx, walletID, users, tx)
		}
		return nil
	case category.IsIncome(), category.IsAcquisition(), category == types.CategoryUnknown:
		// incoming value without an explicit non-taxable category still
		// establishes basis, otherwise a later disposal has no lot to match
		return e.processAcquisitions(ctx, walletID, users, tx)
	default:
		return nil
	}
}

// ProcessBatch runs Process over a sync batch. One bad transaction never
// aborts the rest; failures are logged and counted.
func (e *Engine) ProcessBatch(ctx context.Context, walletID string, userAddresses []string, txs []*types.UnifiedTransaction) int {
	failed := 0
	for _, tx := range txs {
		if err := e.Process(ctx, walletID, userAddresses, tx); err != nil {
			failed++
			tx.NeedsReview = true
			e.logger.WithFields(map[string]interface{}{
				"chain": tx.Chain,
				"hash":  tx.Hash,
			}).WithError(err).Error("tax processing failed")
		}
	}
	return failed
}

// processDisposals matches every outgoing user transfer against open lots.
// Transfers back to a user address are change and establish no disposal.
func (e *Engine) processDisposals(ctx context.Context, walletID string, users addressSet, tx *types.UnifiedTransaction) error {
	disposedAt := int64(0)
	if tx.Timestamp != nil {
		disposedAt = *tx.Timestamp
	}

	var entries []types.CostBasisInfo
	for _, transfer := range tx.Transfers {
		if !users.contains(transfer.From) || users.contains(transfer.To) {
			continue
		}
		quantity, err := pricing.DecimalAmount(transfer.Amount)
		if err != nil || quantity.Sign() == 0 {
			continue
		}
		proceeds, ok := fiatAmount(transfer.Amount)
		if !ok {
			tx.NeedsReview = true
			continue
		}

		matched, err := e.ledger.MatchDisposal(ctx, ledger.Disposal{
			WalletID:     walletID,
			Asset:        transfer.Amount.Asset,
			Amount:       quantity,
			ProceedsFiat: proceeds,
			DisposedAt:   disposedAt,
			Method:       e.method,
			TxID:         tx.ID,
			TransferID:   transfer.ID,
		})
		if err != nil {
			if apperrors.IsInsufficientLots(err) {
				// a missed acquisition or ingestion gap; assuming a zero
				// basis here would overstate gains
				tx.NeedsReview = true
				tx.Tags = appendTag(tx.Tags, "insufficient_lots")
				e.logger.WithFields(map[string]interface{}{
					"hash":  tx.Hash,
					"asset": transfer.Amount.Asset.Key(),
				}).Warn("disposal exceeds open lots")
				continue
			}
			return err
		}
		entries = append(entries, matched...)
	}

	// The match result is the source of truth; replacing rather than
	// appending keeps reprocessing from stacking duplicate entries.
	tx.CostBasis = entries
	return nil
}

// processAcquisitions opens a lot for every incoming user transfer, using
// the transfer's fiat value as cost basis. Income categories use the same
// path: fair-market value at receipt becomes the basis.
func (e *Engine) processAcquisitions(ctx context.Context, walletID string, users addressSet, tx *types.UnifiedTransaction) error {
	acquiredAt := int64(0)
	if tx.Timestamp != nil {
		acquiredAt = *tx.Timestamp
	}

	for _, transfer := range tx.Transfers {
		if !users.contains(transfer.To) || users.contains(transfer.From) {
			continue
		}
		quantity, err := pricing.DecimalAmount(transfer.Amount)
		if err != nil || quantity.Sign() == 0 {
			continue
		}
		costBasis, ok := fiatAmount(transfer.Amount)
		if !ok {
			tx.NeedsReview = true
			costBasis = decimal.Zero
		}

		if _, err := e.ledger.RecordAcquisition(ctx, ledger.Acquisition{
			WalletID:      walletID,
			Asset:         transfer.Amount.Asset,
			Amount:        quantity,
			CostBasisFiat: costBasis,
			AcquiredAt:    acquiredAt,
			TxID:          tx.ID,
			TransferID:    transfer.ID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// fiatAmount extracts the enriched fiat value of an amount.
func fiatAmount(amount types.Amount) (decimal.Decimal, bool) {
	if amount.FiatValue == nil {
		return decimal.Zero, false
	}
	value, err := decimal.NewFromString(amount.FiatValue.Amount)
	if err != nil {
		return decimal.Zero, false
	}
	return value, true
}

func appendTag(tags []string, tag string) []string {
	for _, existing := range tags {
		if existing == tag {
			return tags
		}
	}
	return append(tags, tag)
}

type addressSet map[string]bool

func newAddressSet(addresses []string) addressSet {
	set := make(addressSet, len(addresses))
	for _, addr := range addresses {
		set[strings.ToLower(addr)] = true
	}
	return set
}

func (s addressSet) contains(address string) bool {
	return s[strings.ToLower(address)]
}
