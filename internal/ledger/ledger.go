// Package ledger maintains cost-basis tax lots. Every acquisition opens a
// lot; every disposal consumes lots according to the wallet's matching
// method. Lots are only ever split and closed, never merged or deleted.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/types"
)

// DefaultLongTermThresholdDays is the US long-term capital gains boundary.
const DefaultLongTermThresholdDays = 365

const secondsPerDay = 86400

// Ledger serializes lot mutations per (wallet, asset) pair. Different pairs
// proceed concurrently; the registry lock below protects only the mutex map
// and is never held across store calls.
type Ledger struct {
	store LotStore

	longTermThresholdDays int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Config holds Ledger construction parameters.
type Config struct {
	Store LotStore
	// LongTermThresholdDays defaults to 365 when zero.
	LongTermThresholdDays int
}

// New creates a Ledger.
func New(cfg Config) *Ledger {
	threshold := cfg.LongTermThresholdDays
	if threshold <= 0 {
		threshold = DefaultLongTermThresholdDays
	}
	return &Ledger{
		store:                 cfg.Store,
		longTermThresholdDays: threshold,
		locks:                 make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex guarding one (wallet, asset) pair.
func (l *Ledger) lockFor(walletID, assetKey string) *sync.Mutex {
	key := walletID + "|" + assetKey
	l.mu.Lock()
	defer l.mu.Unlock()
	if m, ok := l.locks[key]; ok {
		return m
	}
	m := &sync.Mutex{}
	l.locks[key] = m
	return m
}

// Acquisition describes one basis-establishing receipt of an asset.
type Acquisition struct {
	WalletID      string
	Asset         types.Asset
	Amount        decimal.Decimal
	CostBasisFiat decimal.Decimal
	AcquiredAt    int64
	TxID          string
	TransferID    string
}

// Disposal describes one basis-consuming release of an asset.
type Disposal struct {
	WalletID     string
	Asset        types.Asset
	Amount       decimal.Decimal
	ProceedsFiat decimal.Decimal
	DisposedAt   int64
	Method       types.CostBasisMethod
	// TxID and TransferID identify the disposing transfer. Matching the
	// same (transaction, transfer) twice returns the stored entries instead
	// of consuming lots again; a disposal without a TxID is not replay
	// guarded.
	TxID       string
	TransferID string
	// SpecificLotIDs selects lots for MethodSpecific, consumed in order.
	SpecificLotIDs []string
}

// RecordAcquisition opens a new lot. Recording the same (transaction,
// transfer) twice returns the existing lot unchanged, so re-ingesting a
// transaction never inflates holdings. Lots are never merged.
func (l *Ledger) RecordAcquisition(ctx context.Context, acq Acquisition) (types.TaxLot, error) {
	if acq.Amount.Sign() <= 0 {
		return types.TaxLot{}, fmt.Errorf("acquisition amount must be positive, got %s", acq.Amount)
	}
	if acq.CostBasisFiat.Sign() < 0 {
		return types.TaxLot{}, fmt.Errorf("cost basis must be non-negative, got %s", acq.CostBasisFiat)
	}

	lock := l.lockFor(acq.WalletID, acq.Asset.Key())
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.FindByAcquisition(ctx, acq.WalletID, acq.TxID, acq.TransferID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrLotNotFound) {
		return types.TaxLot{}, apperrors.NewDatabaseError("FindByAcquisition", err)
	}

	lot := types.TaxLot{
		ID:              uuid.New().String(),
		WalletID:        acq.WalletID,
		Asset:           acq.Asset,
		AmountAcquired:  acq.Amount.String(),
		RemainingAmount: acq.Amount.String(),
		CostBasisFiat:   acq.CostBasisFiat.String(),
		AcquiredAt:      acq.AcquiredAt,
		AcquisitionTxID: acq.TxID,
		TransferID:      acq.TransferID,
	}
	if err := l.store.Insert(ctx, lot); err != nil {
		return types.TaxLot{}, apperrors.NewDatabaseError("Insert", err)
	}
	return lot, nil
}

// MatchDisposal consumes open lots to cover a disposal and returns one
// CostBasisInfo per consumed lot. When open lots cannot cover the full
// amount the ledger is left untouched and an insufficient-lots error is
// returned, so callers can flag the transaction instead of recording a
// partial match. Matching the same (transaction, transfer) a second time
// replays the stored result without touching any lot, so re-ingesting a
// transaction never double-counts a sale.
func (l *Ledger) MatchDisposal(ctx context.Context, disp Disposal) ([]types.CostBasisInfo, error) {
	if disp.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("disposal amount must be positive, got %s", disp.Amount)
	}

	assetKey := disp.Asset.Key()
	lock := l.lockFor(disp.WalletID, assetKey)
	lock.Lock()
	defer lock.Unlock()

	if disp.TxID != "" {
		existing, err := l.store.FindDisposal(ctx, disp.WalletID, disp.TxID, disp.TransferID)
		if err == nil {
			return existing.Entries, nil
		}
		if !errors.Is(err, ErrDisposalNotFound) {
			return nil, apperrors.NewDatabaseError("FindDisposal", err)
		}
	}

	open, err := l.store.OpenLots(ctx, disp.WalletID, assetKey)
	if err != nil {
		return nil, apperrors.NewDatabaseError("OpenLots", err)
	}

	candidates, err := orderLots(open, disp.Method, disp.SpecificLotIDs)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, lot := range candidates {
		remaining, err := decimal.NewFromString(lot.RemainingAmount)
		if err != nil {
			return nil, fmt.Errorf("lot %s has malformed remaining amount: %w", lot.ID, err)
		}
		available = available.Add(remaining)
	}
	if available.LessThan(disp.Amount) {
		return nil, apperrors.NewInsufficientLotsError(disp.WalletID, assetKey, disp.Amount.String(), available.String())
	}

	var (
		entries  []types.CostBasisInfo
		consumed []types.TaxLot
		left     = disp.Amount
	)
	for _, lot := range candidates {
		if left.Sign() == 0 {
			break
		}
		remaining, _ := decimal.NewFromString(lot.RemainingAmount)
		acquired, err := decimal.NewFromString(lot.AmountAcquired)
		if err != nil || acquired.Sign() == 0 {
			return nil, fmt.Errorf("lot %s has malformed acquired amount", lot.ID)
		}
		costBasis, err := decimal.NewFromString(lot.CostBasisFiat)
		if err != nil {
			return nil, fmt.Errorf("lot %s has malformed cost basis", lot.ID)
		}

		take := decimal.Min(remaining, left)
		left = left.Sub(take)

		cost := costBasis.Mul(take).Div(acquired)
		proceeds := disp.ProceedsFiat.Mul(take).Div(disp.Amount)

		entries = append(entries, types.CostBasisInfo{
			Asset:           disp.Asset,
			Amount:          take.String(),
			CostBasisFiat:   cost.String(),
			AcquiredAt:      lot.AcquiredAt,
			AcquisitionTxID: lot.AcquisitionTxID,
			DisposedAt:      disp.DisposedAt,
			HoldingPeriod:   l.holdingPeriod(lot.AcquiredAt, disp.DisposedAt),
			ProceedsFiat:    proceeds.String(),
			GainLoss:        proceeds.Sub(cost).String(),
			Method:          disp.Method,
		})

		newRemaining := remaining.Sub(take)
		lot.RemainingAmount = newRemaining.String()
		lot.IsClosed = newRemaining.Sign() == 0
		consumed = append(consumed, lot)
	}

	record := DisposalRecord{
		ID:         uuid.New().String(),
		WalletID:   disp.WalletID,
		TxID:       disp.TxID,
		TransferID: disp.TransferID,
		Entries:    entries,
	}
	if err := l.store.ApplyDisposal(ctx, consumed, record); err != nil {
		return nil, apperrors.NewDatabaseError("ApplyDisposal", err)
	}

	return entries, nil
}

// OpenBalance returns the total remaining amount across open lots.
func (l *Ledger) OpenBalance(ctx context.Context, walletID string, asset types.Asset) (decimal.Decimal, error) {
	open, err := l.store.OpenLots(ctx, walletID, asset.Key())
	if err != nil {
		return decimal.Zero, apperrors.NewDatabaseError("OpenLots", err)
	}
	total := decimal.Zero
	for _, lot := range open {
		remaining, err := decimal.NewFromString(lot.RemainingAmount)
		if err != nil {
			return decimal.Zero, fmt.Errorf("lot %s has malformed remaining amount: %w", lot.ID, err)
		}
		total = total.Add(remaining)
	}
	return total, nil
}

// holdingPeriod classifies the span between acquisition and disposal.
// Exactly the threshold counts as long.
func (l *Ledger) holdingPeriod(acquiredAt, disposedAt int64) types.HoldingPeriod {
	if disposedAt-acquiredAt >= int64(l.longTermThresholdDays)*secondsPerDay {
		return types.HoldingLong
	}
	return types.HoldingShort
}

// orderLots arranges open lots according to the matching method.
func orderLots(open []types.TaxLot, method types.CostBasisMethod, specificIDs []string) ([]types.TaxLot, error) {
	lots := make([]types.TaxLot, len(open))
	copy(lots, open)

	switch method {
	case types.MethodFIFO, "":
		sort.SliceStable(lots, func(i, j int) bool {
			return lots[i].AcquiredAt < lots[j].AcquiredAt
		})
	case types.MethodLIFO:
		sort.SliceStable(lots, func(i, j int) bool {
			return lots[i].AcquiredAt > lots[j].AcquiredAt
		})
	case types.MethodHIFO:
		unitCosts := make(map[string]decimal.Decimal, len(lots))
		for _, lot := range lots {
			cost, err := decimal.NewFromString(lot.CostBasisFiat)
			if err != nil {
				return nil, fmt.Errorf("lot %s has malformed cost basis: %w", lot.ID, err)
			}
			acquired, err := decimal.NewFromString(lot.AmountAcquired)
			if err != nil || acquired.Sign() == 0 {
				return nil, fmt.Errorf("lot %s has malformed acquired amount", lot.ID)
			}
			unitCosts[lot.ID] = cost.Div(acquired)
		}
		sort.SliceStable(lots, func(i, j int) bool {
			return unitCosts[lots[i].ID].GreaterThan(unitCosts[lots[j].ID])
		})
	case types.MethodSpecific:
		byID := make(map[string]types.TaxLot, len(lots))
		for _, lot := range lots {
			byID[lot.ID] = lot
		}
		selected := make([]types.TaxLot, 0, len(specificIDs))
		for _, id := range specificIDs {
			lot, ok := byID[id]
			if !ok {
				return nil, apperrors.NewNotFoundError("tax lot", id)
			}
			selected = append(selected, lot)
		}
		return selected, nil
	default:
		return nil, fmt.Errorf("unknown cost basis method %q", method)
	}
	return lots, nil
}
