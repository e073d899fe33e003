package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// esploraPageSize is the fixed page size of the confirmed-history endpoint.
const esploraPageSize = 25

// EsploraSource implements BitcoinSource against an Esplora-compatible REST
// API (Blockstream, mempool.space). The provider picks the active base URL
// and handles failover between the configured endpoints.
type EsploraSource struct {
	provider DataProvider
	client   *http.Client
	logger   *logging.Logger
}

// NewEsploraSource creates an Esplora-backed Bitcoin source.
func NewEsploraSource(provider DataProvider) (*EsploraSource, error) {
	if provider == nil {
		return nil, fmt.Errorf("data provider is required")
	}
	return &EsploraSource{
		provider: provider,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logging.WithField("component", "esplora"),
	}, nil
}

// esploraTransaction mirrors the Esplora transaction JSON.
type esploraTransaction struct {
	TxID     string        `json:"txid"`
	Version  int32         `json:"version"`
	LockTime uint32        `json:"locktime"`
	Size     uint64        `json:"size"`
	Weight   uint64        `json:"weight"`
	Vin      []esploraVin  `json:"vin"`
	Vout     []esploraVout `json:"vout"`
	Status   esploraStatus `json:"status"`
}

type esploraVin struct {
	TxID       string       `json:"txid"`
	Vout       uint32       `json:"vout"`
	Sequence   uint32       `json:"sequence"`
	IsCoinbase bool         `json:"is_coinbase"`
	PrevOut    *esploraVout `json:"prevout"`
}

type esploraVout struct {
	ScriptPubKey        string `json:"scriptpubkey"`
	ScriptPubKeyType    string `json:"scriptpubkey_type"`
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               int64  `json:"value"`
}

type esploraStatus struct {
	Confirmed   bool    `json:"confirmed"`
	BlockHeight *uint64 `json:"block_height"`
	BlockHash   *string `json:"block_hash"`
	BlockTime   *int64  `json:"block_time"`
}

// esploraAddressStats is the /address/{addr} response. Balance is derived
// from funded minus spent sums.
type esploraAddressStats struct {
	ChainStats   esploraFundingStats `json:"chain_stats"`
	MempoolStats esploraFundingStats `json:"mempool_stats"`
}

type esploraFundingStats struct {
	FundedTxoSum int64 `json:"funded_txo_sum"`
	SpentTxoSum  int64 `json:"spent_txo_sum"`
}

// FetchTransactions implements BitcoinSource. The full confirmed history is
// paged through /address/{addr}/txs/chain; unconfirmed transactions come from
// the first page.
func (s *EsploraSource) FetchTransactions(ctx context.Context, address string) ([]*BitcoinRawTransaction, error) {
	tip, err := s.tipHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain tip: %w", err)
	}

	var all []esploraTransaction
	path := fmt.Sprintf("/address/%s/txs", address)
	for {
		var page []esploraTransaction
		if err := s.getJSON(ctx, path, &page); err != nil {
			return nil, fmt.Errorf("fetching history for %s: %w", address, err)
		}
		all = append(all, page...)

		confirmed := confirmedCount(page)
		if confirmed < esploraPageSize {
			break
		}
		path = fmt.Sprintf("/address/%s/txs/chain/%s", address, page[len(page)-1].TxID)
	}

	txs := make([]*BitcoinRawTransaction, 0, len(all))
	for i := range all {
		txs = append(txs, convertEsploraTransaction(&all[i], tip))
	}

	s.logger.WithField("address", address).Debugf("fetched %d transactions", len(txs))
	return txs, nil
}

// FetchBalance implements BitcoinSource. Only confirmed outputs count.
func (s *EsploraSource) FetchBalance(ctx context.Context, address string) (*big.Int, error) {
	var stats esploraAddressStats
	if err := s.getJSON(ctx, fmt.Sprintf("/address/%s", address), &stats); err != nil {
		return nil, fmt.Errorf("fetching balance for %s: %w", address, err)
	}
	return big.NewInt(stats.ChainStats.FundedTxoSum - stats.ChainStats.SpentTxoSum), nil
}

func confirmedCount(page []esploraTransaction) int {
	count := 0
	for i := range page {
		if page[i].Status.Confirmed {
			count++
		}
	}
	return count
}

func convertEsploraTransaction(tx *esploraTransaction, tip uint64) *BitcoinRawTransaction {
	raw := &BitcoinRawTransaction{
		TxID:     tx.TxID,
		Hash:     tx.TxID,
		Version:  tx.Version,
		LockTime: tx.LockTime,
		Size:     tx.Size,
		VSize:    (tx.Weight + 3) / 4,
		Weight:   tx.Weight,
		Vin:      make([]BitcoinVin, 0, len(tx.Vin)),
		Vout:     make([]BitcoinVout, 0, len(tx.Vout)),
	}

	if tx.Status.Confirmed {
		raw.BlockHash = tx.Status.BlockHash
		raw.BlockHeight = tx.Status.BlockHeight
		raw.BlockTime = tx.Status.BlockTime
		if tx.Status.BlockHeight != nil && tip >= *tx.Status.BlockHeight {
			raw.Confirmations = uint32(tip - *tx.Status.BlockHeight + 1)
		}
	}

	for _, vin := range tx.Vin {
		in := BitcoinVin{Sequence: vin.Sequence}
		if vin.IsCoinbase {
			coinbase := vin.TxID
			in.Coinbase = &coinbase
		} else {
			txid := vin.TxID
			vout := vin.Vout
			in.TxID = &txid
			in.Vout = &vout
			if vin.PrevOut != nil {
				prevOut := &BitcoinPrevOut{ValueSat: vin.PrevOut.Value}
				if vin.PrevOut.ScriptPubKeyAddress != "" {
					addr := vin.PrevOut.ScriptPubKeyAddress
					prevOut.Address = &addr
				}
				in.PrevOut = prevOut
			}
		}
		raw.Vin = append(raw.Vin, in)
	}

	for n, vout := range tx.Vout {
		out := BitcoinVout{
			ValueSat: vout.Value,
			N:        uint32(n),
			ScriptPubKey: BitcoinScriptPubKey{
				Hex:  vout.ScriptPubKey,
				Type: vout.ScriptPubKeyType,
			},
		}
		if vout.ScriptPubKeyAddress != "" {
			addr := vout.ScriptPubKeyAddress
			out.ScriptPubKey.Address = &addr
		}
		raw.Vout = append(raw.Vout, out)
	}

	return raw
}

func (s *EsploraSource) tipHeight(ctx context.Context) (uint64, error) {
	body, err := s.get(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
}

func (s *EsploraSource) getJSON(ctx context.Context, path string, v interface{}) error {
	body, err := s.get(ctx, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

// get performs a GET against the active endpoint, failing over once when the
// request errors.
func (s *EsploraSource) get(ctx context.Context, path string) ([]byte, error) {
	body, err := s.getFromCurrent(ctx, path)
	if err == nil {
		return body, nil
	}

	s.provider.RecordFailure(err)
	if failoverErr := s.provider.Failover(); failoverErr != nil {
		return nil, err
	}
	s.logger.Warnf("request failed, retrying on fallback endpoint: %v", err)
	return s.getFromCurrent(ctx, path)
}

func (s *EsploraSource) getFromCurrent(ctx context.Context, path string) ([]byte, error) {
	baseURL, err := s.provider.GetCurrentURL()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+path, nil)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError(string(types.ChainBitcoin), "esplora request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewNetworkError(string(types.ChainBitcoin), "esplora request",
			fmt.Errorf("unexpected status %d from %s", resp.StatusCode, path))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	s.provider.RecordSuccess(time.Since(start))
	return body, nil
}
