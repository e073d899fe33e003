package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/chain-ledger/internal/types"
)

// TransactionRepository persists unified transactions in ClickHouse. The
// table is a ReplacingMergeTree versioned by updated_at and keyed by
// (wallet_id, chain, hash), so re-inserting a refetched transaction is an
// idempotent upsert and the latest confirmation count wins.
type TransactionRepository struct {
	db *ClickHouseDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *ClickHouseDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	wallet_id, chain, hash, block_number, block_hash, tx_index, timestamp,
	confirmations, status, direction, fee, transfers, contract_interactions,
	addresses, tax_category, tax_confidence, tax_sub_category, notes, tags,
	needs_review, cost_basis, chain_specific, created_at, updated_at
`

// Upsert inserts or replaces a transaction for a wallet.
func (r *TransactionRepository) Upsert(ctx context.Context, walletID string, tx *types.UnifiedTransaction) error {
	return r.BatchUpsert(ctx, walletID, []*types.UnifiedTransaction{tx})
}

// BatchUpsert inserts a sync batch in one ClickHouse batch.
func (r *TransactionRepository) BatchUpsert(ctx context.Context, walletID string, txs []*types.UnifiedTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO unified_transactions (%s)", transactionColumns))
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	now := time.Now().Unix()
	for _, tx := range txs {
		if tx.UpdatedAt == 0 || tx.UpdatedAt < now {
			tx.UpdatedAt = now
		}
		row, err := transactionRow(walletID, tx)
		if err != nil {
			return fmt.Errorf("failed to encode transaction %s: %w", tx.Hash, err)
		}
		if err := batch.Append(row...); err != nil {
			return fmt.Errorf("failed to append transaction %s to batch: %w", tx.Hash, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// GetByHash returns the latest version of a transaction, or nil when the
// wallet has never seen it.
func (r *TransactionRepository) GetByHash(ctx context.Context, walletID string, chain types.Chain, hash string) (*types.UnifiedTransaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM unified_transactions FINAL
		WHERE wallet_id = ? AND chain = ? AND hash = ?
		LIMIT 1
	`, transactionColumns)

	rows, err := r.db.Conn().Query(ctx, query, walletID, string(chain), hash)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	tx, _, err := scanTransaction(rows)
	return tx, err
}

// GetInRange returns a wallet's transactions with timestamps inside
// [fromTs, toTs), ordered by timestamp. Satisfies the tax report source.
func (r *TransactionRepository) GetInRange(ctx context.Context, walletID string, fromTs, toTs int64) ([]*types.UnifiedTransaction, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM unified_transactions FINAL
		WHERE wallet_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`, transactionColumns)

	rows, err := r.db.Conn().Query(ctx, query, walletID, fromTs, toTs)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions in range: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// GetForAddress returns transactions involving an address, filtered.
func (r *TransactionRepository) GetForAddress(ctx context.Context, address string, filter types.TransactionFilter) ([]*types.UnifiedTransaction, error) {
	conditions := []string{"has(addresses, ?)"}
	args := []interface{}{strings.ToLower(address)}

	if len(filter.Chains) > 0 {
		chains := make([]string, len(filter.Chains))
		for i, chain := range filter.Chains {
			chains[i] = string(chain)
		}
		conditions = append(conditions, "chain IN (?)")
		args = append(args, chains)
	}
	if filter.Direction != nil {
		conditions = append(conditions, "direction = ?")
		args = append(args, string(*filter.Direction))
	}
	if filter.Status != nil {
		conditions = append(conditions, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.TaxCategory != nil {
		conditions = append(conditions, "tax_category = ?")
		args = append(args, string(*filter.TaxCategory))
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, *filter.DateTo)
	}

	query := fmt.Sprintf(`
		SELECT %s FROM unified_transactions FINAL
		WHERE %s
		ORDER BY timestamp DESC
	`, transactionColumns, strings.Join(conditions, " AND "))

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions for address: %w", err)
	}
	defer rows.Close()

	return collectTransactions(rows)
}

// Summary aggregates a wallet's transaction counts.
func (r *TransactionRepository) Summary(ctx context.Context, walletID string) (*types.TransactionSummary, error) {
	query := `
		SELECT chain, direction, status, tax_category, count() AS c
		FROM unified_transactions FINAL
		WHERE wallet_id = ?
		GROUP BY chain, direction, status, tax_category
	`
	rows, err := r.db.Conn().Query(ctx, query, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	summary := &types.TransactionSummary{
		ByChain:     make(map[types.Chain]int64),
		ByDirection: make(map[types.TransactionDirection]int64),
		ByStatus:    make(map[types.TransactionStatus]int64),
		ByCategory:  make(map[types.TaxCategory]int64),
	}
	for rows.Next() {
		var (
			chain, direction, status string
			category                 *string
			count                    uint64
		)
		if err := rows.Scan(&chain, &direction, &status, &category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		n := int64(count)
		summary.Total += n
		summary.ByChain[types.Chain(chain)] += n
		summary.ByDirection[types.TransactionDirection(direction)] += n
		summary.ByStatus[types.TransactionStatus(status)] += n
		if category != nil {
			summary.ByCategory[types.TaxCategory(*category)] += n
		}
	}
	return summary, rows.Err()
}

// transactionRow encodes a transaction into the column order of
// transactionColumns. Nested structures travel as JSON strings; scalar
// columns stay queryable.
func transactionRow(walletID string, tx *types.UnifiedTransaction) ([]interface{}, error) {
	feeJSON, err := json.Marshal(tx.Fee)
	if err != nil {
		return nil, fmt.Errorf("marshal fee: %w", err)
	}
	transfersJSON, err := json.Marshal(tx.Transfers)
	if err != nil {
		return nil, fmt.Errorf("marshal transfers: %w", err)
	}
	interactionsJSON, err := json.Marshal(tx.ContractInteractions)
	if err != nil {
		return nil, fmt.Errorf("marshal contract interactions: %w", err)
	}
	costBasisJSON, err := json.Marshal(tx.CostBasis)
	if err != nil {
		return nil, fmt.Errorf("marshal cost basis: %w", err)
	}
	chainSpecificJSON, err := json.Marshal(tx.ChainSpecific)
	if err != nil {
		return nil, fmt.Errorf("marshal chain specific: %w", err)
	}

	addresses := tx.AllAddresses()
	for i, addr := range addresses {
		addresses[i] = strings.ToLower(addr)
	}

	var category *string
	if tx.TaxCategory != nil {
		s := string(*tx.TaxCategory)
		category = &s
	}

	return []interface{}{
		walletID,
		string(tx.Chain),
		tx.Hash,
		tx.BlockNumber,
		tx.BlockHash,
		tx.TransactionIndex,
		tx.Timestamp,
		tx.Confirmations,
		string(tx.Status),
		string(tx.Direction),
		string(feeJSON),
		string(transfersJSON),
		string(interactionsJSON),
		addresses,
		category,
		tx.TaxCategoryConfidence,
		tx.TaxSubCategory,
		tx.Notes,
		tx.Tags,
		tx.NeedsReview,
		string(costBasisJSON),
		string(chainSpecificJSON),
		tx.CreatedAt,
		tx.UpdatedAt,
	}, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTransaction(rows rowScanner) (*types.UnifiedTransaction, string, error) {
	var (
		walletID, chain, hash, status, direction          string
		feeJSON, transfersJSON, interactionsJSON          string
		costBasisJSON, chainSpecificJSON                  string
		addresses, tags                                   []string
		category, subCategory, notes, blockHash           *string
		confidence                                        *float64
		blockNumber                                       *uint64
		txIndex                                           *uint32
		timestamp                                         *int64
		confirmations                                     uint32
		needsReview                                       bool
		createdAt, updatedAt                              int64
	)
	err := rows.Scan(
		&walletID, &chain, &hash, &blockNumber, &blockHash, &txIndex,
		&timestamp, &confirmations, &status, &direction, &feeJSON,
		&transfersJSON, &interactionsJSON, &addresses, &category,
		&confidence, &subCategory, &notes, &tags, &needsReview,
		&costBasisJSON, &chainSpecificJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to scan transaction: %w", err)
	}

	tx := &types.UnifiedTransaction{
		ID:                    string(types.Chain(chain)) + ":" + hash,
		Chain:                 types.Chain(chain),
		Hash:                  hash,
		BlockNumber:           blockNumber,
		BlockHash:             blockHash,
		TransactionIndex:      txIndex,
		Timestamp:             timestamp,
		Confirmations:         confirmations,
		Status:                types.TransactionStatus(status),
		Direction:             types.TransactionDirection(direction),
		TaxCategoryConfidence: confidence,
		TaxSubCategory:        subCategory,
		Notes:                 notes,
		Tags:                  tags,
		NeedsReview:           needsReview,
		CreatedAt:             createdAt,
		UpdatedAt:             updatedAt,
	}
	if category != nil {
		cat := types.TaxCategory(*category)
		tx.TaxCategory = &cat
	}
	if err := json.Unmarshal([]byte(feeJSON), &tx.Fee); err != nil {
		return nil, "", fmt.Errorf("unmarshal fee for %s: %w", hash, err)
	}
	if err := json.Unmarshal([]byte(transfersJSON), &tx.Transfers); err != nil {
		return nil, "", fmt.Errorf("unmarshal transfers for %s: %w", hash, err)
	}
	if err := json.Unmarshal([]byte(interactionsJSON), &tx.ContractInteractions); err != nil {
		return nil, "", fmt.Errorf("unmarshal contract interactions for %s: %w", hash, err)
	}
	if costBasisJSON != "" && costBasisJSON != "null" {
		if err := json.Unmarshal([]byte(costBasisJSON), &tx.CostBasis); err != nil {
			return nil, "", fmt.Errorf("unmarshal cost basis for %s: %w", hash, err)
		}
	}
	if err := json.Unmarshal([]byte(chainSpecificJSON), &tx.ChainSpecific); err != nil {
		return nil, "", fmt.Errorf("unmarshal chain specific for %s: %w", hash, err)
	}
	return tx, walletID, nil
}

type txRows interface {
	rowScanner
	Next() bool
	Err() error
}

func collectTransactions(rows txRows) ([]*types.UnifiedTransaction, error) {
	var txs []*types.UnifiedTransaction
	for rows.Next() {
		tx, _, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}
