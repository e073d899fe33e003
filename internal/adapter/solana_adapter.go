package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/mr-tron/base58"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// SolanaRawTransaction is the getTransaction payload with jsonParsed
// encoding disabled. Value movement is reconstructed from pre/post balance
// snapshots rather than by decoding program instructions.
type SolanaRawTransaction struct {
	Slot        uint64            `json:"slot"`
	BlockTime   *int64            `json:"blockTime,omitempty"`
	Transaction SolanaRawDetails  `json:"transaction"`
	Meta        *SolanaRawMeta    `json:"meta,omitempty"`
}

// SolanaRawDetails is the signed message of a transaction.
type SolanaRawDetails struct {
	Signatures []string         `json:"signatures"`
	Message    SolanaRawMessage `json:"message"`
}

// SolanaRawMessage is the transaction message body.
type SolanaRawMessage struct {
	AccountKeys     []string               `json:"accountKeys"`
	RecentBlockhash string                 `json:"recentBlockhash"`
	Instructions    []SolanaRawInstruction `json:"instructions"`
}

// SolanaRawInstruction is one compiled instruction.
type SolanaRawInstruction struct {
	ProgramIDIndex uint32   `json:"programIdIndex"`
	Accounts       []uint32 `json:"accounts"`
	Data           string   `json:"data"`
}

// SolanaRawMeta is the execution metadata.
type SolanaRawMeta struct {
	Err                  json.RawMessage         `json:"err,omitempty"`
	Fee                  uint64                  `json:"fee"`
	PreBalances          []uint64                `json:"preBalances"`
	PostBalances         []uint64                `json:"postBalances"`
	PreTokenBalances     []SolanaRawTokenBalance `json:"preTokenBalances,omitempty"`
	PostTokenBalances    []SolanaRawTokenBalance `json:"postTokenBalances,omitempty"`
	LogMessages          []string                `json:"logMessages,omitempty"`
	ComputeUnitsConsumed *uint64                 `json:"computeUnitsConsumed,omitempty"`
}

// SolanaRawTokenBalance is a token account snapshot before or after
// execution.
type SolanaRawTokenBalance struct {
	AccountIndex  uint32               `json:"accountIndex"`
	Mint          string               `json:"mint"`
	Owner         string               `json:"owner"`
	UITokenAmount SolanaRawTokenAmount `json:"uiTokenAmount"`
}

// SolanaRawTokenAmount is the exact token amount of a snapshot.
type SolanaRawTokenAmount struct {
	Amount   string `json:"amount"`
	Decimals uint8  `json:"decimals"`
}

// SolanaSource fetches raw Solana transactions for an address.
type SolanaSource interface {
	FetchTransactions(ctx context.Context, address string) ([]*SolanaRawTransaction, error)
	FetchBalance(ctx context.Context, address string) (*big.Int, error)
}

// SolanaAdapter implements ChainAdapter for Solana.
type SolanaAdapter struct {
	source   SolanaSource
	registry TokenRegistry
	logger   *logging.Logger
}

// NewSolanaAdapter creates a new Solana chain adapter.
func NewSolanaAdapter(source SolanaSource, registry TokenRegistry) *SolanaAdapter {
	return &SolanaAdapter{
		source:   source,
		registry: registry,
		logger:   logging.WithField("adapter", string(types.ChainSolana)),
	}
}

// Chain returns the chain identifier
func (a *SolanaAdapter) Chain() types.Chain {
	return types.ChainSolana
}

// ValidateAddress checks for a base58-encoded 32-byte public key.
func (a *SolanaAdapter) ValidateAddress(address string) bool {
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	return len(decoded) == 32
}

// TransformTransaction converts a raw Solana transaction to the unified
// format. Native movement comes from lamport balance deltas with the fee
// added back to the payer, token movement from (mint, owner) pre/post token
// balance diffs.
func (a *SolanaAdapter) TransformTransaction(rawTx interface{}, userAddresses []string) (*types.UnifiedTransaction, error) {
	raw, ok := rawTx.(*SolanaRawTransaction)
	if !ok {
		return nil, NewAdapterError(types.ChainSolana, "TransformTransaction", ErrInvalidTransaction, map[string]interface{}{
			"expectedType": "*SolanaRawTransaction",
			"actualType":   fmt.Sprintf("%T", rawTx),
		})
	}
	if len(raw.Transaction.Signatures) == 0 {
		return nil, apperrors.NewParseError(string(types.ChainSolana), "", fmt.Errorf("missing signatures"))
	}
	keys := raw.Transaction.Message.AccountKeys
	if len(keys) == 0 {
		return nil, apperrors.NewParseError(string(types.ChainSolana), raw.Transaction.Signatures[0], fmt.Errorf("missing account keys"))
	}

	hash := raw.Transaction.Signatures[0]
	sol := types.NewNativeAsset(types.ChainSolana, "SOL", "Solana", 9)
	user := newAddressSet(userAddresses)
	feePayer := keys[0]
	slot := raw.Slot

	tx := &types.UnifiedTransaction{
		Chain:       types.ChainSolana,
		Hash:        hash,
		BlockNumber: &slot,
		Timestamp:   raw.BlockTime,
		Status:      types.StatusConfirmed,
	}

	fee := uint64(0)
	failed := false
	if raw.Meta != nil {
		fee = raw.Meta.Fee
		if len(raw.Meta.Err) > 0 && string(raw.Meta.Err) != "null" {
			tx.Status = types.StatusFailed
			failed = true
		}
	}

	if raw.Meta != nil && !failed {
		tx.Transfers = append(tx.Transfers, a.nativeTransfers(raw, sol, feePayer)...)
		tokenTransfers, err := a.tokenTransfers(raw, hash)
		if err != nil {
			return nil, err
		}
		tx.Transfers = append(tx.Transfers, tokenTransfers...)
	}

	// The lamport fee is flat; compute units live in the chain-specific
	// payload only.
	tx.Fee = types.Fee{
		Amount: types.NewAmount(sol, new(big.Int).SetUint64(fee)),
		Payer:  feePayer,
	}

	for _, ins := range raw.Transaction.Message.Instructions {
		if int(ins.ProgramIDIndex) < len(keys) {
			tx.ContractInteractions = append(tx.ContractInteractions, types.ContractInteraction{
				Address: keys[ins.ProgramIDIndex],
			})
		}
	}

	tx.ChainSpecific = types.ChainSpecificData{Solana: solanaData(raw)}

	finalizeTransaction(tx, user)
	return tx, nil
}

// nativeTransfers reconstructs lamport movements from balance deltas. The
// fee is added back to the payer so it is not double counted as a transfer.
func (a *SolanaAdapter) nativeTransfers(raw *SolanaRawTransaction, sol types.Asset, feePayer string) []types.Transfer {
	keys := raw.Transaction.Message.AccountKeys
	meta := raw.Meta
	if len(meta.PreBalances) != len(meta.PostBalances) || len(meta.PreBalances) > len(keys) {
		return nil
	}

	deltas := make(map[string]*big.Int)
	for i := range meta.PreBalances {
		delta := new(big.Int).Sub(
			new(big.Int).SetUint64(meta.PostBalances[i]),
			new(big.Int).SetUint64(meta.PreBalances[i]),
		)
		if keys[i] == feePayer {
			delta.Add(delta, new(big.Int).SetUint64(meta.Fee))
		}
		if delta.Sign() != 0 {
			deltas[keys[i]] = delta
		}
	}

	return transfersFromDeltas(deltas, sol, types.TransferNative, keys)
}

// tokenTransfers reconstructs SPL token movements from (mint, owner)
// balance diffs.
func (a *SolanaAdapter) tokenTransfers(raw *SolanaRawTransaction, hash string) ([]types.Transfer, error) {
	meta := raw.Meta
	if len(meta.PreTokenBalances) == 0 && len(meta.PostTokenBalances) == 0 {
		return nil, nil
	}

	type holding struct {
		mint     string
		owner    string
		decimals uint8
	}
	pre := make(map[holding]*big.Int)
	post := make(map[holding]*big.Int)
	for _, b := range meta.PreTokenBalances {
		v, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
		if !ok {
			return nil, apperrors.NewParseError(string(types.ChainSolana), hash, fmt.Errorf("invalid token amount %q", b.UITokenAmount.Amount))
		}
		pre[holding{b.Mint, b.Owner, b.UITokenAmount.Decimals}] = v
	}
	for _, b := range meta.PostTokenBalances {
		v, ok := new(big.Int).SetString(b.UITokenAmount.Amount, 10)
		if !ok {
			return nil, apperrors.NewParseError(string(types.ChainSolana), hash, fmt.Errorf("invalid token amount %q", b.UITokenAmount.Amount))
		}
		post[holding{b.Mint, b.Owner, b.UITokenAmount.Decimals}] = v
	}

	perMint := make(map[string]map[string]*big.Int)
	decimalsByMint := make(map[string]uint8)
	seen := make(map[holding]bool)
	for h := range pre {
		seen[h] = true
	}
	for h := range post {
		seen[h] = true
	}
	for h := range seen {
		before, after := big.NewInt(0), big.NewInt(0)
		if v, ok := pre[h]; ok {
			before = v
		}
		if v, ok := post[h]; ok {
			after = v
		}
		delta := new(big.Int).Sub(after, before)
		if delta.Sign() == 0 {
			continue
		}
		if perMint[h.mint] == nil {
			perMint[h.mint] = make(map[string]*big.Int)
		}
		if existing, ok := perMint[h.mint][h.owner]; ok {
			existing.Add(existing, delta)
		} else {
			perMint[h.mint][h.owner] = delta
		}
		decimalsByMint[h.mint] = h.decimals
	}

	var transfers []types.Transfer
	for mint, deltas := range perMint {
		asset := resolveToken(a.registry, types.ChainSolana, mint)
		if asset.Symbol == "UNKNOWN" {
			asset.Decimals = decimalsByMint[mint]
		}
		transfers = append(transfers, transfersFromDeltas(deltas, asset, types.TransferToken, raw.Transaction.Message.AccountKeys)...)
	}
	return transfers, nil
}

// transfersFromDeltas pairs each positive balance change with the sending
// side. With a single sender the counterparty is exact; with several the
// sender is recorded as unknown rather than guessed.
func transfersFromDeltas(deltas map[string]*big.Int, asset types.Asset, transferType types.TransferType, order []string) []types.Transfer {
	keys := make([]string, 0, len(deltas))
	inOrder := make(map[string]bool, len(deltas))
	for _, key := range order {
		if _, ok := deltas[key]; ok && !inOrder[key] {
			keys = append(keys, key)
			inOrder[key] = true
		}
	}
	// Owners absent from accountKeys (token balance owners) follow, sorted
	// for determinism.
	var rest []string
	for key := range deltas {
		if !inOrder[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	keys = append(keys, rest...)

	var senders, receivers []string
	for _, key := range keys {
		switch deltas[key].Sign() {
		case -1:
			senders = append(senders, key)
		case 1:
			receivers = append(receivers, key)
		}
	}

	from := types.UnknownAddress
	if len(senders) == 1 {
		from = senders[0]
	}

	var transfers []types.Transfer
	for _, receiver := range receivers {
		transfers = append(transfers, types.Transfer{
			From:         from,
			To:           receiver,
			Amount:       types.NewAmount(asset, deltas[receiver]),
			TransferType: transferType,
		})
	}
	return transfers
}

func solanaData(raw *SolanaRawTransaction) *types.SolanaData {
	keys := raw.Transaction.Message.AccountKeys
	data := &types.SolanaData{
		Signatures:      raw.Transaction.Signatures,
		RecentBlockhash: raw.Transaction.Message.RecentBlockhash,
		AccountKeys:     keys,
	}
	if len(keys) > 0 {
		data.FeePayer = keys[0]
	}
	for i, ins := range raw.Transaction.Message.Instructions {
		programID := ""
		if int(ins.ProgramIDIndex) < len(keys) {
			programID = keys[ins.ProgramIDIndex]
		}
		data.Instructions = append(data.Instructions, types.SolanaInstruction{
			ProgramID: programID,
			Index:     uint32(i),
			Accounts:  ins.Accounts,
			Data:      ins.Data,
		})
	}
	if raw.Meta != nil {
		data.ComputeUnitsConsumed = raw.Meta.ComputeUnitsConsumed
		data.LogMessages = raw.Meta.LogMessages
		for _, v := range raw.Meta.PreBalances {
			data.PreBalances = append(data.PreBalances, fmt.Sprintf("%d", v))
		}
		for _, v := range raw.Meta.PostBalances {
			data.PostBalances = append(data.PostBalances, fmt.Sprintf("%d", v))
		}
		for _, b := range raw.Meta.PreTokenBalances {
			data.PreTokenBalances = append(data.PreTokenBalances, rawTokenBalance(b))
		}
		for _, b := range raw.Meta.PostTokenBalances {
			data.PostTokenBalances = append(data.PostTokenBalances, rawTokenBalance(b))
		}
	}
	return data
}

func rawTokenBalance(b SolanaRawTokenBalance) types.SolanaTokenBalance {
	return types.SolanaTokenBalance{
		AccountIndex: b.AccountIndex,
		Mint:         b.Mint,
		Owner:        b.Owner,
		Amount:       b.UITokenAmount.Amount,
		Decimals:     b.UITokenAmount.Decimals,
	}
}

// GetTransactions fetches and transforms all transactions for an address.
func (a *SolanaAdapter) GetTransactions(ctx context.Context, address string, userAddresses []string) ([]*types.UnifiedTransaction, error) {
	if !a.ValidateAddress(address) {
		return nil, NewAdapterError(types.ChainSolana, "GetTransactions", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	raws, err := a.source.FetchTransactions(ctx, address)
	if err != nil {
		return nil, apperrors.NewNetworkError(string(types.ChainSolana), "FetchTransactions", err)
	}

	results := make([]*types.UnifiedTransaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := a.TransformTransaction(raw, userAddresses)
		if err != nil {
			hash := ""
			if len(raw.Transaction.Signatures) > 0 {
				hash = raw.Transaction.Signatures[0]
			}
			a.logger.WithField("signature", hash).WithError(err).Warn("failed to transform transaction")
			results = append(results, failedTransaction(types.ChainSolana, hash, raw.BlockTime))
			continue
		}
		results = append(results, tx)
	}
	return results, nil
}

// GetBalance fetches the current balance in lamports.
func (a *SolanaAdapter) GetBalance(ctx context.Context, address string) (types.Amount, error) {
	if !a.ValidateAddress(address) {
		return types.Amount{}, NewAdapterError(types.ChainSolana, "GetBalance", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	balance, err := a.source.FetchBalance(ctx, address)
	if err != nil {
		return types.Amount{}, apperrors.NewNetworkError(string(types.ChainSolana), "FetchBalance", err)
	}
	return types.NewAmount(types.NewNativeAsset(types.ChainSolana, "SOL", "Solana", 9), balance), nil
}
