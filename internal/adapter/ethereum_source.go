package adapter

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/chain-ledger/internal/logging"
)

// TransactionIndex discovers which transaction hashes touch an address.
// Nodes cannot answer that query; an external index fills the gap.
type TransactionIndex interface {
	TransactionHashes(ctx context.Context, address string) ([]string, error)
}

// RPCEthereumSource implements EthereumSource by combining an address index
// with full transaction bodies fetched from the node. The index tells us
// which hashes matter; the node supplies the transaction, its receipt and
// the enclosing block header.
type RPCEthereumSource struct {
	index  TransactionIndex
	pool   *RPCPool
	logger *logging.Logger
}

// NewRPCEthereumSource creates a source backed by an index and an RPC pool.
func NewRPCEthereumSource(index TransactionIndex, pool *RPCPool) (*RPCEthereumSource, error) {
	if index == nil {
		return nil, fmt.Errorf("transaction index is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("rpc pool is required")
	}
	return &RPCEthereumSource{
		index:  index,
		pool:   pool,
		logger: logging.WithField("component", "ethereum_source"),
	}, nil
}

// rpcTransaction mirrors the eth_getTransactionByHash response.
type rpcTransaction struct {
	Hash                 common.Hash     `json:"hash"`
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to"`
	Value                *hexutil.Big    `json:"value"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Input                hexutil.Bytes   `json:"input"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Type                 hexutil.Uint64  `json:"type"`
	BlockNumber          *hexutil.Big    `json:"blockNumber"`
	BlockHash            *common.Hash    `json:"blockHash"`
	TransactionIndex     *hexutil.Uint64 `json:"transactionIndex"`
}

// rpcReceipt mirrors the eth_getTransactionReceipt response.
type rpcReceipt struct {
	Status            hexutil.Uint64  `json:"status"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	ContractAddress   *common.Address `json:"contractAddress"`
	Logs              []rpcLog        `json:"logs"`
}

type rpcLog struct {
	Address  common.Address `json:"address"`
	Topics   []common.Hash  `json:"topics"`
	Data     hexutil.Bytes  `json:"data"`
	LogIndex hexutil.Uint64 `json:"logIndex"`
}

// rpcHeader is the subset of a block header the source needs.
type rpcHeader struct {
	BaseFeePerGas *hexutil.Big   `json:"baseFeePerGas"`
	Timestamp     hexutil.Uint64 `json:"timestamp"`
}

// FetchTransactions implements EthereumSource.
func (s *RPCEthereumSource) FetchTransactions(ctx context.Context, address string) ([]*EthereumRawTransaction, error) {
	hashes, err := s.index.TransactionHashes(ctx, address)
	if err != nil {
		return nil, err
	}
	if len(hashes) == 0 {
		return nil, nil
	}

	var tip hexutil.Uint64
	if err := s.call(ctx, &tip, "eth_blockNumber"); err != nil {
		return nil, fmt.Errorf("fetching chain tip: %w", err)
	}

	headers := make(map[common.Hash]*rpcHeader)
	txs := make([]*EthereumRawTransaction, 0, len(hashes))
	for _, hash := range hashes {
		raw, err := s.fetchOne(ctx, hash, uint64(tip), headers)
		if err != nil {
			return nil, fmt.Errorf("fetching %s: %w", hash, err)
		}
		if raw == nil {
			// Dropped from the mempool between indexing and fetch.
			s.logger.Debugf("transaction %s not found on node, skipping", hash)
			continue
		}
		txs = append(txs, raw)
	}

	return txs, nil
}

// FetchBalance implements EthereumSource via eth_getBalance at the latest
// block.
func (s *RPCEthereumSource) FetchBalance(ctx context.Context, address string) (*big.Int, error) {
	var balance hexutil.Big
	if err := s.call(ctx, &balance, "eth_getBalance", common.HexToAddress(address), "latest"); err != nil {
		return nil, fmt.Errorf("fetching balance for %s: %w", address, err)
	}
	return balance.ToInt(), nil
}

func (s *RPCEthereumSource) fetchOne(ctx context.Context, hash string, tip uint64, headers map[common.Hash]*rpcHeader) (*EthereumRawTransaction, error) {
	var tx *rpcTransaction
	if err := s.call(ctx, &tx, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, nil
	}

	raw := &EthereumRawTransaction{
		Hash:  tx.Hash.Hex(),
		From:  tx.From.Hex(),
		Value: bigString(tx.Value),
		Gas:   tx.Gas.String(),
		Input: tx.Input.String(),
		Nonce: uint64(tx.Nonce),
		Type:  uint8(tx.Type),
	}
	if tx.To != nil {
		to := tx.To.Hex()
		raw.To = &to
	}
	if tx.GasPrice != nil {
		gasPrice := tx.GasPrice.String()
		raw.GasPrice = &gasPrice
	}
	if tx.MaxFeePerGas != nil {
		maxFee := tx.MaxFeePerGas.String()
		raw.MaxFeePerGas = &maxFee
	}
	if tx.MaxPriorityFeePerGas != nil {
		tipFee := tx.MaxPriorityFeePerGas.String()
		raw.MaxPriorityFeePerGas = &tipFee
	}

	// Pending transactions have no block yet.
	if tx.BlockHash == nil || tx.BlockNumber == nil {
		return raw, nil
	}

	blockNumber := tx.BlockNumber.ToInt().Uint64()
	blockHash := tx.BlockHash.Hex()
	raw.BlockNumber = &blockNumber
	raw.BlockHash = &blockHash
	if tx.TransactionIndex != nil {
		txIndex := uint32(*tx.TransactionIndex)
		raw.TransactionIndex = &txIndex
	}
	if tip >= blockNumber {
		raw.Confirmations = uint32(tip - blockNumber + 1)
	}

	header, err := s.headerByHash(ctx, *tx.BlockHash, headers)
	if err != nil {
		return nil, err
	}
	timestamp := int64(header.Timestamp)
	raw.Timestamp = &timestamp
	if header.BaseFeePerGas != nil {
		baseFee := header.BaseFeePerGas.String()
		raw.BaseFeePerGas = &baseFee
	}

	var receipt *rpcReceipt
	if err := s.call(ctx, &receipt, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if receipt != nil {
		raw.Receipt = convertReceipt(receipt)
	}

	return raw, nil
}

func (s *RPCEthereumSource) headerByHash(ctx context.Context, hash common.Hash, cache map[common.Hash]*rpcHeader) (*rpcHeader, error) {
	if header, ok := cache[hash]; ok {
		return header, nil
	}

	var header *rpcHeader
	if err := s.call(ctx, &header, "eth_getBlockByHash", hash, false); err != nil {
		return nil, err
	}
	if header == nil {
		return nil, fmt.Errorf("block %s not found", hash.Hex())
	}

	cache[hash] = header
	return header, nil
}

// call issues a raw JSON-RPC request through the pool, following its
// rate-limit failover.
func (s *RPCEthereumSource) call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	return s.pool.Execute(ctx, func(client *ethclient.Client) error {
		return client.Client().CallContext(ctx, result, method, args...)
	})
}

func convertReceipt(receipt *rpcReceipt) *EthereumRawReceipt {
	out := &EthereumRawReceipt{
		Status:  uint64(receipt.Status),
		GasUsed: receipt.GasUsed.String(),
		Logs:    make([]EthereumRawLog, 0, len(receipt.Logs)),
	}
	if receipt.EffectiveGasPrice != nil {
		price := receipt.EffectiveGasPrice.String()
		out.EffectiveGasPrice = &price
	}
	if receipt.ContractAddress != nil {
		addr := receipt.ContractAddress.Hex()
		out.ContractAddress = &addr
	}
	for _, lg := range receipt.Logs {
		topics := make([]string, 0, len(lg.Topics))
		for _, topic := range lg.Topics {
			topics = append(topics, topic.Hex())
		}
		out.Logs = append(out.Logs, EthereumRawLog{
			Address:  lg.Address.Hex(),
			Topics:   topics,
			Data:     lg.Data.String(),
			LogIndex: uint32(lg.LogIndex),
		})
	}
	return out
}

func bigString(value *hexutil.Big) string {
	if value == nil {
		return "0x0"
	}
	return value.String()
}
