package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// solanaSignaturePageSize is the getSignaturesForAddress page size.
const solanaSignaturePageSize = 1000

// SolanaRPCSource implements SolanaSource against the Solana JSON-RPC API.
// Signature discovery and transaction fetch both go through the configured
// DataProvider for endpoint failover.
type SolanaRPCSource struct {
	provider DataProvider
	client   *http.Client
	logger   *logging.Logger
}

// NewSolanaRPCSource creates a JSON-RPC backed Solana source.
func NewSolanaRPCSource(provider DataProvider) (*SolanaRPCSource, error) {
	if provider == nil {
		return nil, fmt.Errorf("data provider is required")
	}
	return &SolanaRPCSource{
		provider: provider,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logging.WithField("component", "solana_rpc"),
	}, nil
}

type solanaRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type solanaRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *solanaRPCError `json:"error,omitempty"`
}

type solanaRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type solanaSignatureInfo struct {
	Signature string          `json:"signature"`
	Err       json.RawMessage `json:"err,omitempty"`
}

// FetchTransactions implements SolanaSource. The signature list is walked
// oldest-first so unified IDs stay stable across resyncs.
func (s *SolanaRPCSource) FetchTransactions(ctx context.Context, address string) ([]*SolanaRawTransaction, error) {
	signatures, err := s.allSignatures(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("listing signatures for %s: %w", address, err)
	}

	txs := make([]*SolanaRawTransaction, 0, len(signatures))
	for i := len(signatures) - 1; i >= 0; i-- {
		var tx *SolanaRawTransaction
		params := []interface{}{
			signatures[i],
			map[string]interface{}{
				"encoding":                       "json",
				"maxSupportedTransactionVersion": 0,
			},
		}
		if err := s.call(ctx, "getTransaction", params, &tx); err != nil {
			return nil, fmt.Errorf("fetching %s: %w", signatures[i], err)
		}
		if tx == nil {
			s.logger.Debugf("transaction %s not found on node, skipping", signatures[i])
			continue
		}
		txs = append(txs, tx)
	}

	s.logger.WithField("address", address).Debugf("fetched %d transactions", len(txs))
	return txs, nil
}

// FetchBalance implements SolanaSource via getBalance.
func (s *SolanaRPCSource) FetchBalance(ctx context.Context, address string) (*big.Int, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := s.call(ctx, "getBalance", []interface{}{address}, &result); err != nil {
		return nil, fmt.Errorf("fetching balance for %s: %w", address, err)
	}
	return new(big.Int).SetUint64(result.Value), nil
}

// allSignatures pages through getSignaturesForAddress, newest first.
func (s *SolanaRPCSource) allSignatures(ctx context.Context, address string) ([]string, error) {
	var signatures []string
	var before string

	for {
		opts := map[string]interface{}{"limit": solanaSignaturePageSize}
		if before != "" {
			opts["before"] = before
		}

		var page []solanaSignatureInfo
		if err := s.call(ctx, "getSignaturesForAddress", []interface{}{address, opts}, &page); err != nil {
			return nil, err
		}
		if len(page) == 0 {
			return signatures, nil
		}

		for _, info := range page {
			signatures = append(signatures, info.Signature)
		}
		if len(page) < solanaSignaturePageSize {
			return signatures, nil
		}
		before = page[len(page)-1].Signature
	}
}

// call issues one JSON-RPC request, failing over once when it errors.
func (s *SolanaRPCSource) call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	err := s.callCurrent(ctx, method, params, result)
	if err == nil {
		return nil
	}

	s.provider.RecordFailure(err)
	if failoverErr := s.provider.Failover(); failoverErr != nil {
		return err
	}
	s.logger.Warnf("%s failed, retrying on fallback endpoint: %v", method, err)
	return s.callCurrent(ctx, method, params, result)
}

func (s *SolanaRPCSource) callCurrent(ctx context.Context, method string, params []interface{}, result interface{}) error {
	endpoint, err := s.provider.GetCurrentURL()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(solanaRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return apperrors.NewNetworkError(string(types.ChainSolana), method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.NewNetworkError(string(types.ChainSolana), method,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var rpcResp solanaRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	s.provider.RecordSuccess(time.Since(start))

	if result == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decoding %s result: %w", method, err)
	}
	return nil
}
