package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/chain-ledger/internal/errors"
	"github.com/chain-ledger/internal/logging"
)

// etherscanChainIDs maps supported EVM chains to Etherscan v2 chain IDs.
var etherscanChainIDs = map[string]string{
	"ethereum": "1",
	"polygon":  "137",
	"arbitrum": "42161",
	"optimism": "10",
	"base":     "8453",
}

// EtherscanClient discovers the transaction hashes touching an address via
// the Etherscan v2 account API. It covers external transactions, internal
// calls and token transfers; raw transaction bodies come from the node.
type EtherscanClient struct {
	apiKey  string
	baseURL string
	chain   string
	chainID string
	client  *http.Client
	limiter *rate.Limiter
	logger  *logging.Logger
}

// EtherscanClientConfig configures an EtherscanClient.
type EtherscanClientConfig struct {
	APIKey string
	// Chain selects the chainid query parameter. Must be a key of
	// etherscanChainIDs.
	Chain string
	// RequestsPerSecond bounds outbound calls. The free tier allows 5.
	RequestsPerSecond float64
	Burst             int
}

// NewEtherscanClient creates an index client for one EVM chain.
func NewEtherscanClient(cfg EtherscanClientConfig) (*EtherscanClient, error) {
	chainID, ok := etherscanChainIDs[cfg.Chain]
	if !ok {
		return nil, fmt.Errorf("chain %s has no etherscan chain id", cfg.Chain)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &EtherscanClient{
		apiKey:  cfg.APIKey,
		baseURL: "https://api.etherscan.io/v2/api",
		chain:   cfg.Chain,
		chainID: chainID,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		logger:  logging.WithField("component", "etherscan").WithField("chain", cfg.Chain),
	}, nil
}

// etherscanEnvelope is the common response wrapper. Result stays raw because
// its shape depends on the action.
type etherscanEnvelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// etherscanTxRef is the subset of a listed transaction the client needs.
type etherscanTxRef struct {
	Hash string `json:"hash"`
}

// TransactionHashes returns the distinct hashes of all transactions touching
// the address, in the order the index first reports them. External, internal
// and token activity are merged so contract interactions without a direct
// transfer still surface.
func (c *EtherscanClient) TransactionHashes(ctx context.Context, address string) ([]string, error) {
	seen := make(map[string]struct{})
	var hashes []string

	for _, action := range []string{"txlist", "txlistinternal", "tokentx"} {
		refs, err := c.listAction(ctx, action, address)
		if err != nil {
			return nil, fmt.Errorf("etherscan %s for %s: %w", action, address, err)
		}
		for _, ref := range refs {
			hash := strings.ToLower(ref.Hash)
			if hash == "" {
				continue
			}
			if _, ok := seen[hash]; ok {
				continue
			}
			seen[hash] = struct{}{}
			hashes = append(hashes, hash)
		}
	}

	c.logger.WithField("address", address).Debugf("index returned %d transactions", len(hashes))
	return hashes, nil
}

func (c *EtherscanClient) listAction(ctx context.Context, action, address string) ([]etherscanTxRef, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("chainid", c.chainID)
	params.Set("module", "account")
	params.Set("action", action)
	params.Set("address", address)
	params.Set("startblock", "0")
	params.Set("endblock", "latest")
	params.Set("sort", "asc")
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperrors.NewNetworkError(c.chain, "etherscan "+action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewNetworkError(c.chain, "etherscan "+action,
			fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var envelope etherscanEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	// status "0" covers both errors and the empty result set.
	if envelope.Status != "1" {
		if strings.Contains(envelope.Message, "No transactions found") {
			return nil, nil
		}
		return nil, fmt.Errorf("api error: %s", etherscanErrorDetail(envelope))
	}

	var refs []etherscanTxRef
	if err := json.Unmarshal(envelope.Result, &refs); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return refs, nil
}

func etherscanErrorDetail(envelope etherscanEnvelope) string {
	var detail string
	if err := json.Unmarshal(envelope.Result, &detail); err == nil && detail != "" {
		return fmt.Sprintf("%s: %s", envelope.Message, detail)
	}
	return envelope.Message
}
