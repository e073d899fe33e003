package adapter

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/mr-tron/base58"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// BitcoinRawTransaction is the verbose getrawtransaction payload with
// previous outputs resolved. Values are integer satoshis; the adapter never
// does floating-point arithmetic on amounts.
type BitcoinRawTransaction struct {
	TxID          string        `json:"txid"`
	Hash          string        `json:"hash"`
	Version       int32         `json:"version"`
	Size          uint64        `json:"size"`
	VSize         uint64        `json:"vsize"`
	Weight        uint64        `json:"weight"`
	LockTime      uint32        `json:"locktime"`
	Vin           []BitcoinVin  `json:"vin"`
	Vout          []BitcoinVout `json:"vout"`
	BlockHash     *string       `json:"blockhash,omitempty"`
	BlockHeight   *uint64       `json:"blockheight,omitempty"`
	Confirmations uint32        `json:"confirmations"`
	BlockTime     *int64        `json:"blocktime,omitempty"`
}

// BitcoinVin is a transaction input. Coinbase inputs have no previous output.
type BitcoinVin struct {
	TxID     *string         `json:"txid,omitempty"`
	Vout     *uint32         `json:"vout,omitempty"`
	Sequence uint32          `json:"sequence"`
	Coinbase *string         `json:"coinbase,omitempty"`
	PrevOut  *BitcoinPrevOut `json:"prevout,omitempty"`
}

// BitcoinPrevOut is the resolved output an input spends.
type BitcoinPrevOut struct {
	ValueSat int64   `json:"valueSat"`
	Address  *string `json:"address,omitempty"`
}

// BitcoinVout is a transaction output.
type BitcoinVout struct {
	ValueSat     int64               `json:"valueSat"`
	N            uint32              `json:"n"`
	ScriptPubKey BitcoinScriptPubKey `json:"scriptPubKey"`
}

// BitcoinScriptPubKey is the locking script of an output.
type BitcoinScriptPubKey struct {
	Hex     string  `json:"hex"`
	Type    string  `json:"type"`
	Address *string `json:"address,omitempty"`
}

// BitcoinSource fetches raw Bitcoin transactions for an address.
type BitcoinSource interface {
	FetchTransactions(ctx context.Context, address string) ([]*BitcoinRawTransaction, error)
	FetchBalance(ctx context.Context, address string) (*big.Int, error)
}

// BitcoinAdapter implements ChainAdapter for the Bitcoin UTXO model.
type BitcoinAdapter struct {
	source BitcoinSource
	logger *logging.Logger
}

// NewBitcoinAdapter creates a new Bitcoin chain adapter.
func NewBitcoinAdapter(source BitcoinSource) *BitcoinAdapter {
	return &BitcoinAdapter{
		source: source,
		logger: logging.WithField("adapter", string(types.ChainBitcoin)),
	}
}

// Chain returns the chain identifier
func (a *BitcoinAdapter) Chain() types.Chain {
	return types.ChainBitcoin
}

// ValidateAddress checks legacy base58 and bech32 address formats.
func (a *BitcoinAdapter) ValidateAddress(address string) bool {
	if address == "" {
		return false
	}
	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "bc1") {
		return len(address) >= 14 && len(address) <= 74
	}
	if address[0] != '1' && address[0] != '3' {
		return false
	}
	decoded, err := base58.Decode(address)
	if err != nil {
		return false
	}
	// version byte + 20-byte hash + 4-byte checksum
	return len(decoded) == 25
}

// TransformTransaction converts a raw Bitcoin transaction to the unified
// format. The fee is the difference between input and output sums; change
// outputs back to the user stay ordinary transfers and never flip an
// outgoing payment into a swap.
func (a *BitcoinAdapter) TransformTransaction(rawTx interface{}, userAddresses []string) (*types.UnifiedTransaction, error) {
	raw, ok := rawTx.(*BitcoinRawTransaction)
	if !ok {
		return nil, NewAdapterError(types.ChainBitcoin, "TransformTransaction", ErrInvalidTransaction, map[string]interface{}{
			"expectedType": "*BitcoinRawTransaction",
			"actualType":   fmt.Sprintf("%T", rawTx),
		})
	}
	if raw.TxID == "" {
		return nil, apperrors.NewParseError(string(types.ChainBitcoin), "", fmt.Errorf("missing txid"))
	}

	btc := types.NewNativeAsset(types.ChainBitcoin, "BTC", "Bitcoin", 8)
	user := newAddressSet(userAddresses)

	isCoinbase := len(raw.Vin) > 0 && raw.Vin[0].Coinbase != nil

	var inputSum, outputSum int64
	inputsResolved := !isCoinbase
	fromAddress := types.UnknownAddress
	userOwnsInput := false
	for _, vin := range raw.Vin {
		if vin.Coinbase != nil {
			continue
		}
		if vin.PrevOut == nil {
			inputsResolved = false
			continue
		}
		inputSum += vin.PrevOut.ValueSat
		if vin.PrevOut.Address == nil {
			continue
		}
		if fromAddress == types.UnknownAddress {
			fromAddress = *vin.PrevOut.Address
		}
		// The user's own input wins the from attribution: a spend funded
		// jointly with other parties is still the user's spend no matter
		// where their input sits in the list.
		if !userOwnsInput && user.contains(*vin.PrevOut.Address) {
			fromAddress = *vin.PrevOut.Address
			userOwnsInput = true
		}
	}

	tx := &types.UnifiedTransaction{
		Chain:         types.ChainBitcoin,
		Hash:          raw.TxID,
		BlockNumber:   raw.BlockHeight,
		BlockHash:     raw.BlockHash,
		Timestamp:     raw.BlockTime,
		Confirmations: raw.Confirmations,
		Status:        types.StatusPending,
	}
	if raw.Confirmations > 0 {
		tx.Status = types.StatusConfirmed
	}

	for _, vout := range raw.Vout {
		outputSum += vout.ValueSat
		if vout.ScriptPubKey.Address == nil || vout.ValueSat <= 0 {
			// OP_RETURN and non-standard scripts carry no spendable value
			// movement worth tracking.
			continue
		}
		from := fromAddress
		if isCoinbase {
			from = "coinbase"
		}
		tx.Transfers = append(tx.Transfers, types.Transfer{
			From:         from,
			To:           *vout.ScriptPubKey.Address,
			Amount:       types.NewAmount(btc, big.NewInt(vout.ValueSat)),
			TransferType: types.TransferNative,
		})
	}

	fee := int64(0)
	if inputsResolved && !isCoinbase {
		fee = inputSum - outputSum
		if fee < 0 {
			return nil, apperrors.NewParseError(string(types.ChainBitcoin), raw.TxID,
				fmt.Errorf("outputs exceed inputs by %d sat", -fee))
		}
	} else if !isCoinbase {
		// Fee cannot be computed without every previous output resolved.
		tx.NeedsReview = true
	}
	feeRate := map[string]string{}
	if raw.VSize > 0 && fee > 0 {
		feeRate["satPerVbyte"] = fmt.Sprintf("%.2f", float64(fee)/float64(raw.VSize))
	}
	tx.Fee = types.Fee{
		Amount:  types.NewAmount(btc, big.NewInt(fee)),
		FeeRate: feeRate,
		Payer:   fromAddress,
	}

	tx.ChainSpecific = types.ChainSpecificData{Bitcoin: bitcoinData(raw, isCoinbase)}

	finalizeTransaction(tx, user)
	return tx, nil
}

// GetTransactions fetches and transforms all transactions for an address.
// Malformed transactions become failed records with empty transfers instead
// of aborting the batch.
func (a *BitcoinAdapter) GetTransactions(ctx context.Context, address string, userAddresses []string) ([]*types.UnifiedTransaction, error) {
	if !a.ValidateAddress(address) {
		return nil, NewAdapterError(types.ChainBitcoin, "GetTransactions", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	raws, err := a.source.FetchTransactions(ctx, address)
	if err != nil {
		return nil, apperrors.NewNetworkError(string(types.ChainBitcoin), "FetchTransactions", err)
	}

	results := make([]*types.UnifiedTransaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := a.TransformTransaction(raw, userAddresses)
		if err != nil {
			a.logger.WithField("txid", raw.TxID).WithError(err).Warn("failed to transform transaction")
			results = append(results, failedTransaction(types.ChainBitcoin, raw.TxID, raw.BlockTime))
			continue
		}
		results = append(results, tx)
	}
	return results, nil
}

// GetBalance fetches the current confirmed balance in satoshis.
func (a *BitcoinAdapter) GetBalance(ctx context.Context, address string) (types.Amount, error) {
	if !a.ValidateAddress(address) {
		return types.Amount{}, NewAdapterError(types.ChainBitcoin, "GetBalance", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	balance, err := a.source.FetchBalance(ctx, address)
	if err != nil {
		return types.Amount{}, apperrors.NewNetworkError(string(types.ChainBitcoin), "FetchBalance", err)
	}
	return types.NewAmount(types.NewNativeAsset(types.ChainBitcoin, "BTC", "Bitcoin", 8), balance), nil
}

func bitcoinData(raw *BitcoinRawTransaction, isCoinbase bool) *types.BitcoinData {
	data := &types.BitcoinData{
		Version:  raw.Version,
		LockTime: raw.LockTime,
		VSize:    raw.VSize,
		Weight:   raw.Weight,
		IsSegwit: raw.Hash != "" && raw.Hash != raw.TxID,
	}
	for _, vin := range raw.Vin {
		input := types.BitcoinInput{Sequence: vin.Sequence}
		if vin.TxID != nil {
			input.TxID = *vin.TxID
		}
		if vin.Vout != nil {
			input.Vout = *vin.Vout
		}
		if vin.PrevOut != nil {
			value := fmt.Sprintf("%d", vin.PrevOut.ValueSat)
			input.Value = &value
			input.Address = vin.PrevOut.Address
		}
		data.Inputs = append(data.Inputs, input)
		// Opt-in replace-by-fee signalling per BIP 125.
		if !isCoinbase && vin.Sequence < 0xfffffffe {
			data.IsRBF = true
		}
	}
	for _, vout := range raw.Vout {
		data.Outputs = append(data.Outputs, types.BitcoinOutput{
			N:            vout.N,
			Value:        fmt.Sprintf("%d", vout.ValueSat),
			ScriptPubKey: vout.ScriptPubKey.Hex,
			Address:      vout.ScriptPubKey.Address,
			OutputType:   vout.ScriptPubKey.Type,
		})
	}
	return data
}

// failedTransaction builds the minimal record persisted for a transaction
// that could not be parsed.
func failedTransaction(chain types.Chain, hash string, timestamp *int64) *types.UnifiedTransaction {
	tx := &types.UnifiedTransaction{
		ID:          transactionID(chain, hash),
		Chain:       chain,
		Hash:        hash,
		Timestamp:   timestamp,
		Status:      types.StatusFailed,
		Direction:   types.DirectionContract,
		NeedsReview: true,
		Tags:        []string{"parse_error"},
	}
	finalizeTransaction(tx, nil)
	tx.Status = types.StatusFailed
	tx.NeedsReview = true
	return tx
}
