package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chain-ledger/internal/ledger"
	"github.com/chain-ledger/internal/types"
)

// LotRepository is the Postgres ledger.LotStore. The asset identity is
// stored twice: asset_key as an indexed scalar for lookups, asset as JSON
// for reconstruction.
type LotRepository struct {
	db *PostgresDB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *PostgresDB) *LotRepository {
	return &LotRepository{db: db}
}

var _ ledger.LotStore = (*LotRepository)(nil)

const lotColumns = `
	id, wallet_id, asset_key, asset, amount_acquired, remaining_amount,
	cost_basis_fiat, acquired_at, acquisition_tx_id, transfer_id, is_closed
`

// Insert implements ledger.LotStore.
func (r *LotRepository) Insert(ctx context.Context, lot types.TaxLot) error {
	assetJSON, err := json.Marshal(lot.Asset)
	if err != nil {
		return fmt.Errorf("failed to marshal asset: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO tax_lots (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, lotColumns)

	_, err = r.db.Pool().Exec(ctx, query,
		lot.ID,
		lot.WalletID,
		lot.Asset.Key(),
		string(assetJSON),
		lot.AmountAcquired,
		lot.RemainingAmount,
		lot.CostBasisFiat,
		lot.AcquiredAt,
		lot.AcquisitionTxID,
		lot.TransferID,
		lot.IsClosed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tax lot: %w", err)
	}
	return nil
}

// ApplyDisposal implements ledger.LotStore. Lot consumption and the
// disposal record commit in one database transaction; a failure on any lot
// rolls every update back instead of leaking partially consumed basis.
func (r *LotRepository) ApplyDisposal(ctx context.Context, lots []types.TaxLot, record ledger.DisposalRecord) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin disposal transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE tax_lots
		SET remaining_amount = $2, is_closed = $3
		WHERE id = $1
	`
	for _, lot := range lots {
		tag, err := tx.Exec(ctx, query, lot.ID, lot.RemainingAmount, lot.IsClosed)
		if err != nil {
			return fmt.Errorf("failed to update tax lot %s: %w", lot.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return ledger.ErrLotNotFound
		}
	}

	if record.TxID != "" {
		entriesJSON, err := json.Marshal(record.Entries)
		if err != nil {
			return fmt.Errorf("failed to marshal disposal entries: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO lot_disposals (id, wallet_id, tx_id, transfer_id, entries)
			VALUES ($1, $2, $3, $4, $5)
		`, record.ID, record.WalletID, record.TxID, record.TransferID, string(entriesJSON))
		if err != nil {
			return fmt.Errorf("failed to insert disposal record: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit disposal: %w", err)
	}
	return nil
}

// FindDisposal implements ledger.LotStore.
func (r *LotRepository) FindDisposal(ctx context.Context, walletID, txID, transferID string) (ledger.DisposalRecord, error) {
	query := `
		SELECT id, wallet_id, tx_id, transfer_id, entries FROM lot_disposals
		WHERE wallet_id = $1 AND tx_id = $2 AND transfer_id = $3
	`

	var (
		record      ledger.DisposalRecord
		entriesJSON string
	)
	err := r.db.Pool().QueryRow(ctx, query, walletID, txID, transferID).Scan(
		&record.ID,
		&record.WalletID,
		&record.TxID,
		&record.TransferID,
		&entriesJSON,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.DisposalRecord{}, ledger.ErrDisposalNotFound
	}
	if err != nil {
		return ledger.DisposalRecord{}, fmt.Errorf("failed to query disposal record: %w", err)
	}
	if err := json.Unmarshal([]byte(entriesJSON), &record.Entries); err != nil {
		return ledger.DisposalRecord{}, fmt.Errorf("failed to unmarshal entries for disposal %s: %w", record.ID, err)
	}
	return record, nil
}

// OpenLots implements ledger.LotStore.
func (r *LotRepository) OpenLots(ctx context.Context, walletID, assetKey string) ([]types.TaxLot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tax_lots
		WHERE wallet_id = $1 AND asset_key = $2 AND NOT is_closed
		ORDER BY acquired_at ASC, id ASC
	`, lotColumns)

	rows, err := r.db.Pool().Query(ctx, query, walletID, assetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query open lots: %w", err)
	}
	defer rows.Close()

	return collectLots(rows)
}

// FindByAcquisition implements ledger.LotStore.
func (r *LotRepository) FindByAcquisition(ctx context.Context, walletID, txID, transferID string) (types.TaxLot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tax_lots
		WHERE wallet_id = $1 AND acquisition_tx_id = $2 AND transfer_id = $3
	`, lotColumns)

	rows, err := r.db.Pool().Query(ctx, query, walletID, txID, transferID)
	if err != nil {
		return types.TaxLot{}, fmt.Errorf("failed to query lot by acquisition: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return types.TaxLot{}, err
		}
		return types.TaxLot{}, ledger.ErrLotNotFound
	}
	return scanLot(rows)
}

// Lots implements ledger.LotStore.
func (r *LotRepository) Lots(ctx context.Context, walletID, assetKey string) ([]types.TaxLot, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM tax_lots
		WHERE wallet_id = $1 AND asset_key = $2
		ORDER BY acquired_at ASC, id ASC
	`, lotColumns)

	rows, err := r.db.Pool().Query(ctx, query, walletID, assetKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query lots: %w", err)
	}
	defer rows.Close()

	return collectLots(rows)
}

func scanLot(row pgx.Row) (types.TaxLot, error) {
	var (
		lot       types.TaxLot
		assetKey  string
		assetJSON string
	)
	err := row.Scan(
		&lot.ID,
		&lot.WalletID,
		&assetKey,
		&assetJSON,
		&lot.AmountAcquired,
		&lot.RemainingAmount,
		&lot.CostBasisFiat,
		&lot.AcquiredAt,
		&lot.AcquisitionTxID,
		&lot.TransferID,
		&lot.IsClosed,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.TaxLot{}, ledger.ErrLotNotFound
	}
	if err != nil {
		return types.TaxLot{}, fmt.Errorf("failed to scan tax lot: %w", err)
	}
	if err := json.Unmarshal([]byte(assetJSON), &lot.Asset); err != nil {
		return types.TaxLot{}, fmt.Errorf("failed to unmarshal asset for lot %s: %w", lot.ID, err)
	}
	return lot, nil
}

func collectLots(rows pgx.Rows) ([]types.TaxLot, error) {
	var lots []types.TaxLot
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
