// Package worker drives ingestion: it fans out chain fetches per address,
// deduplicates the results, and runs the enrich/categorize/tax pipeline
// before handing transactions to storage.
package worker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/chain-ledger/internal/adapter"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/retry"
	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
)

// TransactionSink receives the finished batch. storage.TransactionRepository
// satisfies it; the upsert must be idempotent per (chain, hash).
type TransactionSink interface {
	BatchUpsert(ctx context.Context, walletID string, txs []*types.UnifiedTransaction) error
}

// PriceEnricher attaches fiat values. Enrichment runs before tax processing
// so no price I/O ever happens inside ledger locks.
type PriceEnricher interface {
	Enrich(ctx context.Context, tx *types.UnifiedTransaction) error
}

// SyncWorker ingests a wallet's addresses across chains.
type SyncWorker struct {
	adapters    map[types.Chain]adapter.ChainAdapter
	enricher    PriceEnricher
	categorizer *tax.Categorizer
	engine      *tax.Engine
	sink        TransactionSink

	maxConcurrentAddresses int
	logger                 *logging.Logger
}

// SyncWorkerConfig holds configuration for a sync worker
type SyncWorkerConfig struct {
	Adapters    map[types.Chain]adapter.ChainAdapter
	Enricher    PriceEnricher
	Categorizer *tax.Categorizer
	Engine      *tax.Engine
	Sink        TransactionSink
	// MaxConcurrentAddresses bounds the fetch fan-out, 8 when zero.
	MaxConcurrentAddresses int
	Logger                 *logging.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(cfg *SyncWorkerConfig) (*SyncWorker, error) {
	if len(cfg.Adapters) == 0 {
		return nil, fmt.Errorf("at least one chain adapter is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("transaction sink cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("tax engine cannot be nil")
	}

	maxConcurrent := cfg.MaxConcurrentAddresses
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithField("component", "sync_worker")
	}

	return &SyncWorker{
		adapters:               cfg.Adapters,
		enricher:               cfg.Enricher,
		categorizer:            cfg.Categorizer,
		engine:                 cfg.Engine,
		sink:                   cfg.Sink,
		maxConcurrentAddresses: maxConcurrent,
		logger:                 logger,
	}, nil
}

// WalletSync describes one wallet's addresses, grouped by chain.
type WalletSync struct {
	WalletID  string
	Addresses map[types.Chain][]string
}

// SyncResult summarizes one sync run.
type SyncResult struct {
	Fetched      int
	Deduplicated int
	Processed    int
	TaxFailures  int
	FetchErrors  int
}

// SyncWallet fetches, deduplicates and processes every address of the
// wallet. Fetches fan out concurrently; the pipeline after deduplication is
// sequential because the tax ledger serializes per (wallet, asset) anyway.
// The whole run is idempotent: re-syncing upserts transactions and never
// duplicates tax lots.
func (w *SyncWorker) SyncWallet(ctx context.Context, ws WalletSync) (*SyncResult, error) {
	result := &SyncResult{}

	txs, fetchErrs := w.fetchAll(ctx, ws)
	result.FetchErrors = fetchErrs
	result.Fetched = len(txs)
	if err := ctx.Err(); err != nil {
		return result, err
	}

	deduped := dedupeByHash(txs)
	result.Deduplicated = result.Fetched - len(deduped)

	userAddresses := allAddresses(ws)
	for _, tx := range deduped {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if w.enricher != nil {
			if err := w.enricher.Enrich(ctx, tx); err != nil {
				tx.NeedsReview = true
				w.logger.WithField("hash", tx.Hash).WithError(err).Warn("price enrichment failed")
			}
		}
		if w.categorizer != nil {
			w.categorizer.Categorize(ctx, tx, userAddresses)
		}
	}

	result.TaxFailures = w.engine.ProcessBatch(ctx, ws.WalletID, userAddresses, deduped)
	result.Processed = len(deduped)

	if err := w.sink.BatchUpsert(ctx, ws.WalletID, deduped); err != nil {
		return result, fmt.Errorf("failed to persist sync batch: %w", err)
	}

	w.logger.WithFields(map[string]interface{}{
		"wallet":       ws.WalletID,
		"fetched":      result.Fetched,
		"deduplicated": result.Deduplicated,
		"tax_failures": result.TaxFailures,
		"fetch_errors": result.FetchErrors,
	}).Info("wallet sync finished")
	return result, nil
}

// RunLoop re-syncs the wallet on a fixed interval until the context ends.
func (w *SyncWorker) RunLoop(ctx context.Context, ws WalletSync, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.SyncWallet(ctx, ws); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.WithField("wallet", ws.WalletID).WithError(err).Error("wallet sync failed")
			}
		}
	}
}

// fetchAll fans out one fetch per (chain, address) with bounded concurrency.
// A failed address is logged and skipped; the rest of the batch proceeds.
func (w *SyncWorker) fetchAll(ctx context.Context, ws WalletSync) ([]*types.UnifiedTransaction, int) {
	type fetchJob struct {
		chain   types.Chain
		address string
	}

	var jobs []fetchJob
	for chain, addresses := range ws.Addresses {
		if _, ok := w.adapters[chain]; !ok {
			w.logger.WithField("chain", chain).Warn("no adapter configured, skipping")
			continue
		}
		for _, address := range addresses {
			jobs = append(jobs, fetchJob{chain: chain, address: address})
		}
	}

	var (
		mu        sync.Mutex
		collected []*types.UnifiedTransaction
		errCount  int
	)
	sem := make(chan struct{}, w.maxConcurrentAddresses)
	var wg sync.WaitGroup

	userAddresses := allAddresses(ws)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(job fetchJob) {
			defer wg.Done()
			defer func() { <-sem }()

			var txs []*types.UnifiedTransaction
			err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
				var fetchErr error
				txs, fetchErr = w.adapters[job.chain].GetTransactions(ctx, job.address, userAddresses)
				return fetchErr
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errCount++
				w.logger.WithFields(map[string]interface{}{
					"chain":   job.chain,
					"address": job.address,
				}).WithError(err).Error("address fetch failed")
				return
			}
			collected = append(collected, txs...)
		}(job)
	}
	wg.Wait()

	return collected, errCount
}

// dedupeByHash collapses duplicate (chain, hash) fetches, keeping the copy
// with the highest confirmation count. Output order is deterministic:
// timestamp ascending, then chain and hash.
func dedupeByHash(txs []*types.UnifiedTransaction) []*types.UnifiedTransaction {
	byKey := make(map[string]*types.UnifiedTransaction, len(txs))
	for _, tx := range txs {
		key := string(tx.Chain) + ":" + tx.Hash
		if existing, ok := byKey[key]; ok && existing.Confirmations >= tx.Confirmations {
			continue
		}
		byKey[key] = tx
	}

	deduped := make([]*types.UnifiedTransaction, 0, len(byKey))
	for _, tx := range byKey {
		deduped = append(deduped, tx)
	}
	sort.Slice(deduped, func(i, j int) bool {
		ti, tj := int64(0), int64(0)
		if deduped[i].Timestamp != nil {
			ti = *deduped[i].Timestamp
		}
		if deduped[j].Timestamp != nil {
			tj = *deduped[j].Timestamp
		}
		if ti != tj {
			return ti < tj
		}
		if deduped[i].Chain != deduped[j].Chain {
			return deduped[i].Chain < deduped[j].Chain
		}
		return deduped[i].Hash < deduped[j].Hash
	})
	return deduped
}

func allAddresses(ws WalletSync) []string {
	var out []string
	for _, addresses := range ws.Addresses {
		out = append(out, addresses...)
	}
	return out
}
