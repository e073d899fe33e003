package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/types"
)

// historyWindow is how far the lookup range extends on either side of the
// requested timestamp. CoinGecko returns hourly points for ranges under 90
// days, so a one-day pad always yields candidates for any listed asset.
const historyWindow = 24 * time.Hour

// nativeCoinIDs maps native assets to CoinGecko coin ids.
var nativeCoinIDs = map[types.Chain]string{
	types.ChainBitcoin:  "bitcoin",
	types.ChainEthereum: "ethereum",
	types.ChainArbitrum: "ethereum",
	types.ChainOptimism: "ethereum",
	types.ChainBase:     "ethereum",
	types.ChainPolygon:  "polygon-ecosystem-token",
	types.ChainSolana:   "solana",
}

// assetPlatformIDs maps chains to CoinGecko asset platform ids for contract
// lookups.
var assetPlatformIDs = map[types.Chain]string{
	types.ChainEthereum: "ethereum",
	types.ChainArbitrum: "arbitrum-one",
	types.ChainOptimism: "optimistic-ethereum",
	types.ChainBase:     "base",
	types.ChainPolygon:  "polygon-pos",
	types.ChainSolana:   "solana",
}

// CoinGeckoService implements PriceService against the CoinGecko market
// data API. Wrap it in a CachingPriceService; this client issues one HTTP
// request per lookup.
type CoinGeckoService struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *logging.Logger
}

// NewCoinGeckoService creates a CoinGecko price client. An empty apiKey uses
// the public endpoint and its anonymous rate limits.
func NewCoinGeckoService(apiKey string) *CoinGeckoService {
	return &CoinGeckoService{
		apiKey:  apiKey,
		baseURL: "https://api.coingecko.com/api/v3",
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logging.WithField("component", "coingecko"),
	}
}

// marketChart is the market_chart/range response. Each entry is a
// [millisecond timestamp, price] pair.
type marketChart struct {
	Prices [][2]json.Number `json:"prices"`
}

// GetPrice implements PriceService. NFTs and assets CoinGecko does not list
// resolve to ErrPriceUnavailable; the enricher degrades them to unpriced.
func (s *CoinGeckoService) GetPrice(ctx context.Context, asset types.Asset, currency string, timestamp int64) (PricePoint, error) {
	path, err := s.chartPath(asset)
	if err != nil {
		return PricePoint{}, err
	}

	from := timestamp - int64(historyWindow/time.Second)
	to := timestamp + int64(historyWindow/time.Second)

	params := url.Values{}
	params.Set("vs_currency", strings.ToLower(currency))
	params.Set("from", fmt.Sprintf("%d", from))
	params.Set("to", fmt.Sprintf("%d", to))

	chart, err := s.fetchChart(ctx, path, params)
	if err != nil {
		return PricePoint{}, err
	}

	point, ok := nearestPrice(chart, timestamp)
	if !ok {
		return PricePoint{}, fmt.Errorf("%w: %s at %d", ErrPriceUnavailable, asset.Key(), timestamp)
	}
	point.Currency = strings.ToUpper(currency)
	point.Source = "coingecko"
	return point, nil
}

// chartPath resolves the API path for an asset. PriceID wins when the
// registry supplied one; native coins and platform contracts are derived.
func (s *CoinGeckoService) chartPath(asset types.Asset) (string, error) {
	if asset.PriceID != nil && *asset.PriceID != "" {
		return fmt.Sprintf("/coins/%s/market_chart/range", *asset.PriceID), nil
	}

	if asset.Kind == types.AssetNative {
		coinID, ok := nativeCoinIDs[asset.Chain]
		if !ok {
			return "", fmt.Errorf("%w: no coin id for chain %s", ErrPriceUnavailable, asset.Chain)
		}
		return fmt.Sprintf("/coins/%s/market_chart/range", coinID), nil
	}

	if asset.ContractAddress == nil || *asset.ContractAddress == "" {
		return "", fmt.Errorf("%w: %s has no contract address", ErrPriceUnavailable, asset.Key())
	}
	platform, ok := assetPlatformIDs[asset.Chain]
	if !ok {
		return "", fmt.Errorf("%w: no platform id for chain %s", ErrPriceUnavailable, asset.Chain)
	}
	return fmt.Sprintf("/coins/%s/contract/%s/market_chart/range", platform, strings.ToLower(*asset.ContractAddress)), nil
}

func (s *CoinGeckoService) fetchChart(ctx context.Context, path string, params url.Values) (*marketChart, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if s.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: asset not listed", ErrPriceUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from coingecko", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var chart marketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("decoding market chart: %w", err)
	}
	return &chart, nil
}

// nearestPrice picks the observation closest to the requested timestamp.
func nearestPrice(chart *marketChart, timestamp int64) (PricePoint, bool) {
	var best PricePoint
	bestDelta := int64(-1)

	for _, pair := range chart.Prices {
		ms, err := pair[0].Int64()
		if err != nil {
			continue
		}
		price, err := decimal.NewFromString(pair[1].String())
		if err != nil {
			continue
		}

		observedAt := ms / 1000
		delta := observedAt - timestamp
		if delta < 0 {
			delta = -delta
		}
		if bestDelta < 0 || delta < bestDelta {
			best = PricePoint{Price: price, Timestamp: observedAt}
			bestDelta = delta
		}
	}

	return best, bestDelta >= 0
}
