package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// erc20TransferTopic is keccak256("Transfer(address,address,uint256)"),
// shared by ERC-20 and ERC-721. The token standard is told apart by the
// number of indexed topics.
var erc20TransferTopic = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// EthereumRawTransaction is a transaction joined with its receipt and the
// block base fee. Quantities are decimal or 0x-prefixed hex strings.
type EthereumRawTransaction struct {
	Hash                 string              `json:"hash"`
	From                 string              `json:"from"`
	To                   *string             `json:"to,omitempty"`
	Value                string              `json:"value"`
	Gas                  string              `json:"gas"`
	GasPrice             *string             `json:"gasPrice,omitempty"`
	MaxFeePerGas         *string             `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *string             `json:"maxPriorityFeePerGas,omitempty"`
	BaseFeePerGas        *string             `json:"baseFeePerGas,omitempty"`
	Input                string              `json:"input"`
	Nonce                uint64              `json:"nonce"`
	Type                 uint8               `json:"type"`
	BlockNumber          *uint64             `json:"blockNumber,omitempty"`
	BlockHash            *string             `json:"blockHash,omitempty"`
	TransactionIndex     *uint32             `json:"transactionIndex,omitempty"`
	Timestamp            *int64              `json:"timestamp,omitempty"`
	Confirmations        uint32              `json:"confirmations"`
	Receipt              *EthereumRawReceipt `json:"receipt,omitempty"`
}

// EthereumRawReceipt is the execution result of a transaction.
type EthereumRawReceipt struct {
	Status            uint64           `json:"status"`
	GasUsed           string           `json:"gasUsed"`
	EffectiveGasPrice *string          `json:"effectiveGasPrice,omitempty"`
	ContractAddress   *string          `json:"contractAddress,omitempty"`
	Logs              []EthereumRawLog `json:"logs"`
}

// EthereumRawLog is one event emitted during execution.
type EthereumRawLog struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex uint32   `json:"logIndex"`
}

// EthereumSource fetches raw EVM transactions and balances for an address.
type EthereumSource interface {
	FetchTransactions(ctx context.Context, address string) ([]*EthereumRawTransaction, error)
	FetchBalance(ctx context.Context, address string) (*big.Int, error)
}

// EthereumAdapter implements ChainAdapter for Ethereum and EVM-compatible
// chains. One adapter instance serves one chain; L2s reuse the same parsing
// with their own chain identifier and native asset.
type EthereumAdapter struct {
	chain    types.Chain
	source   EthereumSource
	registry TokenRegistry
	logger   *logging.Logger
}

// evmNativeAssets maps each supported EVM chain to its base currency.
var evmNativeAssets = map[types.Chain]types.Asset{
	types.ChainEthereum: types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18),
	types.ChainArbitrum: types.NewNativeAsset(types.ChainArbitrum, "ETH", "Ether", 18),
	types.ChainOptimism: types.NewNativeAsset(types.ChainOptimism, "ETH", "Ether", 18),
	types.ChainBase:     types.NewNativeAsset(types.ChainBase, "ETH", "Ether", 18),
	types.ChainPolygon:  types.NewNativeAsset(types.ChainPolygon, "POL", "Polygon", 18),
}

// NewEthereumAdapter creates an adapter for an EVM chain.
func NewEthereumAdapter(chain types.Chain, source EthereumSource, registry TokenRegistry) (*EthereumAdapter, error) {
	if _, ok := evmNativeAssets[chain]; !ok {
		return nil, fmt.Errorf("chain %s is not EVM-compatible", chain)
	}
	return &EthereumAdapter{
		chain:    chain,
		source:   source,
		registry: registry,
		logger:   logging.WithField("adapter", string(chain)),
	}, nil
}

// Chain returns the chain identifier
func (a *EthereumAdapter) Chain() types.Chain {
	return a.chain
}

// ValidateAddress checks the 20-byte hex address format.
func (a *EthereumAdapter) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// TransformTransaction converts a raw EVM transaction to the unified format.
// The native value movement is always the first transfer, even when the
// value is zero, so contract calls keep a caller/callee record. Token
// movements follow in log-index order.
func (a *EthereumAdapter) TransformTransaction(rawTx interface{}, userAddresses []string) (*types.UnifiedTransaction, error) {
	raw, ok := rawTx.(*EthereumRawTransaction)
	if !ok {
		return nil, NewAdapterError(a.chain, "TransformTransaction", ErrInvalidTransaction, map[string]interface{}{
			"expectedType": "*EthereumRawTransaction",
			"actualType":   fmt.Sprintf("%T", rawTx),
		})
	}
	if raw.Hash == "" {
		return nil, apperrors.NewParseError(string(a.chain), "", fmt.Errorf("missing transaction hash"))
	}
	if !common.IsHexAddress(raw.From) {
		return nil, apperrors.NewParseError(string(a.chain), raw.Hash, fmt.Errorf("invalid from address %q", raw.From))
	}

	native := evmNativeAssets[a.chain]
	user := newAddressSet(userAddresses)
	from := common.HexToAddress(raw.From).Hex()

	tx := &types.UnifiedTransaction{
		Chain:            a.chain,
		Hash:             raw.Hash,
		BlockNumber:      raw.BlockNumber,
		BlockHash:        raw.BlockHash,
		TransactionIndex: raw.TransactionIndex,
		Timestamp:        raw.Timestamp,
		Confirmations:    raw.Confirmations,
		Status:           types.StatusPending,
	}

	reverted := false
	if raw.Receipt != nil {
		if raw.Receipt.Status == 1 {
			tx.Status = types.StatusConfirmed
		} else {
			tx.Status = types.StatusFailed
			reverted = true
		}
	}

	value, err := parseQuantity(raw.Value)
	if err != nil {
		return nil, apperrors.NewParseError(string(a.chain), raw.Hash, fmt.Errorf("invalid value: %w", err))
	}

	// Recipient of the native movement: the to address, or the deployed
	// contract for creation transactions.
	to := ""
	if raw.To != nil && common.IsHexAddress(*raw.To) {
		to = common.HexToAddress(*raw.To).Hex()
	} else if raw.Receipt != nil && raw.Receipt.ContractAddress != nil {
		to = common.HexToAddress(*raw.Receipt.ContractAddress).Hex()
	}

	if !reverted {
		tx.Transfers = append(tx.Transfers, types.Transfer{
			From:         from,
			To:           to,
			Amount:       types.NewAmount(native, value),
			TransferType: types.TransferNative,
		})

		if raw.Receipt != nil {
			tokenTransfers, err := a.parseTokenTransfers(raw)
			if err != nil {
				return nil, err
			}
			tx.Transfers = append(tx.Transfers, tokenTransfers...)
		}
	}

	fee, feeRate, err := a.computeFee(raw)
	if err != nil {
		return nil, apperrors.NewParseError(string(a.chain), raw.Hash, err)
	}
	tx.Fee = types.Fee{
		Amount:  types.NewAmount(native, fee),
		FeeRate: feeRate,
		Payer:   from,
	}

	if len(raw.Input) > 2 && to != "" {
		method := ""
		if len(raw.Input) >= 10 {
			method = raw.Input[:10]
		}
		interaction := types.ContractInteraction{Address: to}
		if method != "" {
			interaction.Method = &method
		}
		tx.ContractInteractions = append(tx.ContractInteractions, interaction)
	}

	tx.ChainSpecific = types.ChainSpecificData{Ethereum: a.ethereumData(raw, from)}

	finalizeTransaction(tx, user)
	return tx, nil
}

// parseTokenTransfers extracts ERC-20 and ERC-721 movements from receipt
// logs. Unparseable logs are skipped; unknown tokens degrade to a
// placeholder asset.
func (a *EthereumAdapter) parseTokenTransfers(raw *EthereumRawTransaction) ([]types.Transfer, error) {
	var transfers []types.Transfer
	for _, l := range raw.Receipt.Logs {
		if len(l.Topics) < 3 || common.HexToHash(l.Topics[0]) != erc20TransferTopic {
			continue
		}

		contract := common.HexToAddress(l.Address).Hex()
		from := common.HexToAddress(l.Topics[1]).Hex()
		to := common.HexToAddress(l.Topics[2]).Hex()
		logIndex := l.LogIndex

		switch len(l.Topics) {
		case 3:
			// ERC-20: amount in data.
			amount, err := parseQuantity(l.Data)
			if err != nil {
				a.logger.WithFields(map[string]interface{}{
					"txHash":   raw.Hash,
					"logIndex": l.LogIndex,
				}).Warn("skipping transfer log with invalid amount")
				continue
			}
			asset := resolveToken(a.registry, a.chain, contract)
			transfers = append(transfers, types.Transfer{
				From:         from,
				To:           to,
				Amount:       types.NewAmount(asset, amount),
				TransferType: types.TransferToken,
				LogIndex:     &logIndex,
			})
		case 4:
			// ERC-721: token ID in the third indexed topic.
			tokenID, err := parseQuantity(l.Topics[3])
			if err != nil {
				continue
			}
			asset := resolveToken(a.registry, a.chain, contract)
			asset.Kind = types.AssetNFT
			asset.Decimals = 0
			id := tokenID.String()
			asset.TokenID = &id
			transfers = append(transfers, types.Transfer{
				From:         from,
				To:           to,
				Amount:       types.NewAmount(asset, big.NewInt(1)),
				TransferType: types.TransferNFT,
				LogIndex:     &logIndex,
			})
		}
	}
	return transfers, nil
}

// computeFee returns gasUsed * effectiveGasPrice. For EIP-1559 transactions
// without an explicit effective price the price is
// min(maxFeePerGas, baseFee + maxPriorityFeePerGas).
func (a *EthereumAdapter) computeFee(raw *EthereumRawTransaction) (*big.Int, map[string]string, error) {
	if raw.Receipt == nil {
		return big.NewInt(0), nil, nil
	}

	gasUsed, err := parseQuantity(raw.Receipt.GasUsed)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid gasUsed: %w", err)
	}

	price, err := a.effectiveGasPrice(raw)
	if err != nil {
		return nil, nil, err
	}

	fee := new(big.Int).Mul(gasUsed, price)
	feeRate := map[string]string{
		"gasUsed":           gasUsed.String(),
		"effectiveGasPrice": price.String(),
	}
	return fee, feeRate, nil
}

func (a *EthereumAdapter) effectiveGasPrice(raw *EthereumRawTransaction) (*big.Int, error) {
	if raw.Receipt.EffectiveGasPrice != nil {
		return parseQuantity(*raw.Receipt.EffectiveGasPrice)
	}

	if raw.MaxFeePerGas != nil && raw.BaseFeePerGas != nil {
		maxFee, err := parseQuantity(*raw.MaxFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("invalid maxFeePerGas: %w", err)
		}
		baseFee, err := parseQuantity(*raw.BaseFeePerGas)
		if err != nil {
			return nil, fmt.Errorf("invalid baseFeePerGas: %w", err)
		}
		priority := big.NewInt(0)
		if raw.MaxPriorityFeePerGas != nil {
			priority, err = parseQuantity(*raw.MaxPriorityFeePerGas)
			if err != nil {
				return nil, fmt.Errorf("invalid maxPriorityFeePerGas: %w", err)
			}
		}
		effective := new(big.Int).Add(baseFee, priority)
		if effective.Cmp(maxFee) > 0 {
			effective = maxFee
		}
		return effective, nil
	}

	if raw.GasPrice != nil {
		return parseQuantity(*raw.GasPrice)
	}
	return nil, fmt.Errorf("no gas price information")
}

// GetTransactions fetches and transforms all transactions for an address.
func (a *EthereumAdapter) GetTransactions(ctx context.Context, address string, userAddresses []string) ([]*types.UnifiedTransaction, error) {
	if !a.ValidateAddress(address) {
		return nil, NewAdapterError(a.chain, "GetTransactions", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	raws, err := a.source.FetchTransactions(ctx, address)
	if err != nil {
		return nil, apperrors.NewNetworkError(string(a.chain), "FetchTransactions", err)
	}

	results := make([]*types.UnifiedTransaction, 0, len(raws))
	for _, raw := range raws {
		tx, err := a.TransformTransaction(raw, userAddresses)
		if err != nil {
			a.logger.WithField("txHash", raw.Hash).WithError(err).Warn("failed to transform transaction")
			results = append(results, failedTransaction(a.chain, raw.Hash, raw.Timestamp))
			continue
		}
		results = append(results, tx)
	}
	return results, nil
}

// GetBalance fetches the current native balance in wei.
func (a *EthereumAdapter) GetBalance(ctx context.Context, address string) (types.Amount, error) {
	if !a.ValidateAddress(address) {
		return types.Amount{}, NewAdapterError(a.chain, "GetBalance", ErrInvalidAddress, map[string]interface{}{
			"address": address,
		})
	}

	balance, err := a.source.FetchBalance(ctx, address)
	if err != nil {
		return types.Amount{}, apperrors.NewNetworkError(string(a.chain), "FetchBalance", err)
	}
	return types.NewAmount(evmNativeAssets[a.chain], balance), nil
}

func (a *EthereumAdapter) ethereumData(raw *EthereumRawTransaction, from string) *types.EthereumData {
	data := &types.EthereumData{
		From:                 from,
		To:                   raw.To,
		Value:                raw.Value,
		GasLimit:             raw.Gas,
		GasPrice:             raw.GasPrice,
		MaxFeePerGas:         raw.MaxFeePerGas,
		MaxPriorityFeePerGas: raw.MaxPriorityFeePerGas,
		BaseFeePerGas:        raw.BaseFeePerGas,
		TxType:               raw.Type,
		Nonce:                raw.Nonce,
		Input:                raw.Input,
	}
	if raw.Receipt != nil {
		data.GasUsed = raw.Receipt.GasUsed
		data.ContractAddress = raw.Receipt.ContractAddress
		if price, err := a.effectiveGasPrice(raw); err == nil {
			data.EffectiveGasPrice = price.String()
		}
		for _, l := range raw.Receipt.Logs {
			data.Logs = append(data.Logs, types.EthereumLog{
				LogIndex: l.LogIndex,
				Address:  l.Address,
				Topics:   l.Topics,
				Data:     l.Data,
			})
		}
	}
	return data
}

// parseQuantity parses a decimal or 0x-prefixed hex quantity.
func parseQuantity(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	// base 0 accepts both decimal and 0x-prefixed input
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("malformed quantity %q", s)
	}
	return v, nil
}
