package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/chain-ledger/internal/types"
)

// ErrLotNotFound is returned when a lot lookup misses.
var ErrLotNotFound = fmt.Errorf("tax lot not found")

// ErrDisposalNotFound is returned when no disposal record exists for a
// transfer.
var ErrDisposalNotFound = fmt.Errorf("disposal record not found")

// DisposalRecord is the persisted result of matching one disposing transfer
// against lots. It is keyed by (wallet, transaction, transfer) so replaying
// the same transfer returns the stored entries instead of consuming lots
// again.
type DisposalRecord struct {
	ID         string
	WalletID   string
	TxID       string
	TransferID string
	Entries    []types.CostBasisInfo
}

// LotStore persists tax lots. Implementations must never delete lots: a
// fully consumed lot is closed, keeping the audit trail intact.
type LotStore interface {
	// Insert adds a new lot.
	Insert(ctx context.Context, lot types.TaxLot) error

	// ApplyDisposal replaces the consumption state of the given lots and
	// stores the disposal record in one atomic step. A record with an empty
	// TxID updates the lots without persisting a replay guard.
	ApplyDisposal(ctx context.Context, lots []types.TaxLot, record DisposalRecord) error

	// FindDisposal returns the stored match for a disposing transfer, or
	// ErrDisposalNotFound.
	FindDisposal(ctx context.Context, walletID, txID, transferID string) (DisposalRecord, error)

	// OpenLots returns lots with a positive remaining amount for a
	// (wallet, asset) pair, ordered by acquisition time ascending.
	OpenLots(ctx context.Context, walletID, assetKey string) ([]types.TaxLot, error)

	// FindByAcquisition returns the lot created by a specific transfer of a
	// specific transaction, or ErrLotNotFound.
	FindByAcquisition(ctx context.Context, walletID, txID, transferID string) (types.TaxLot, error)

	// Lots returns every lot for a (wallet, asset) pair, open or closed.
	Lots(ctx context.Context, walletID, assetKey string) ([]types.TaxLot, error)
}

// MemoryLotStore is an in-memory LotStore for tests and single-node use.
type MemoryLotStore struct {
	mu        sync.RWMutex
	lots      map[string][]types.TaxLot // keyed by walletID + "|" + assetKey
	byID      map[string]string         // lot ID -> bucket key
	disposals map[string]DisposalRecord // keyed by walletID + "|" + txID + "|" + transferID
}

// NewMemoryLotStore creates an empty store.
func NewMemoryLotStore() *MemoryLotStore {
	return &MemoryLotStore{
		lots:      make(map[string][]types.TaxLot),
		byID:      make(map[string]string),
		disposals: make(map[string]DisposalRecord),
	}
}

func bucketKey(walletID, assetKey string) string {
	return walletID + "|" + assetKey
}

func disposalKey(walletID, txID, transferID string) string {
	return walletID + "|" + txID + "|" + transferID
}

// Insert implements LotStore.
func (s *MemoryLotStore) Insert(_ context.Context, lot types.TaxLot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[lot.ID]; exists {
		return fmt.Errorf("duplicate lot id %s", lot.ID)
	}
	key := bucketKey(lot.WalletID, lot.Asset.Key())
	s.lots[key] = append(s.lots[key], lot)
	s.byID[lot.ID] = key
	return nil
}

// ApplyDisposal implements LotStore. All lot updates and the record land
// under one lock, so a reader never observes a half-applied disposal.
func (s *MemoryLotStore) ApplyDisposal(_ context.Context, lots []types.TaxLot, record DisposalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Resolve every lot before mutating anything so a missing lot leaves
	// the store untouched.
	type slot struct {
		bucket string
		index  int
	}
	slots := make([]slot, len(lots))
	for i, lot := range lots {
		key, ok := s.byID[lot.ID]
		if !ok {
			return ErrLotNotFound
		}
		index := -1
		for j := range s.lots[key] {
			if s.lots[key][j].ID == lot.ID {
				index = j
				break
			}
		}
		if index < 0 {
			return ErrLotNotFound
		}
		slots[i] = slot{bucket: key, index: index}
	}
	for i, lot := range lots {
		s.lots[slots[i].bucket][slots[i].index] = lot
	}

	if record.TxID != "" {
		s.disposals[disposalKey(record.WalletID, record.TxID, record.TransferID)] = record
	}
	return nil
}

// FindDisposal implements LotStore.
func (s *MemoryLotStore) FindDisposal(_ context.Context, walletID, txID, transferID string) (DisposalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if record, ok := s.disposals[disposalKey(walletID, txID, transferID)]; ok {
		return record, nil
	}
	return DisposalRecord{}, ErrDisposalNotFound
}

// OpenLots implements LotStore.
func (s *MemoryLotStore) OpenLots(_ context.Context, walletID, assetKey string) ([]types.TaxLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []types.TaxLot
	for _, lot := range s.lots[bucketKey(walletID, assetKey)] {
		if !lot.IsClosed {
			open = append(open, lot)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		return open[i].AcquiredAt < open[j].AcquiredAt
	})
	return open, nil
}

// FindByAcquisition implements LotStore.
func (s *MemoryLotStore) FindByAcquisition(_ context.Context, walletID, txID, transferID string) (types.TaxLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, bucket := range s.lots {
		for _, lot := range bucket {
			if lot.WalletID == walletID && lot.AcquisitionTxID == txID && lot.TransferID == transferID {
				return lot, nil
			}
		}
	}
	return types.TaxLot{}, ErrLotNotFound
}

// Lots implements LotStore.
func (s *MemoryLotStore) Lots(_ context.Context, walletID, assetKey string) ([]types.TaxLot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bucket := s.lots[bucketKey(walletID, assetKey)]
	out := make([]types.TaxLot, len(bucket))
	copy(out, bucket)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AcquiredAt < out[j].AcquiredAt
	})
	return out, nil
}
