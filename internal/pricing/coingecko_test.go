package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chain-ledger/internal/circuitbreaker"
	"github.com/chain-ledger/internal/types"
)

func newTestCoinGecko(t *testing.T, handler http.HandlerFunc) *CoinGeckoService {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	service := NewCoinGeckoService("test-key")
	service.baseURL = server.URL
	return service
}

func chartResponse(pairs ...[2]json.Number) []byte {
	body, _ := json.Marshal(marketChart{Prices: pairs})
	return body
}

func TestCoinGeckoNativeAssetPicksNearestPrice(t *testing.T) {
	target := int64(1700000000)
	service := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/ethereum/market_chart/range", r.URL.Path)
		assert.Equal(t, "usd", r.URL.Query().Get("vs_currency"))
		assert.Equal(t, "test-key", r.Header.Get("x-cg-demo-api-key"))

		w.Write(chartResponse(
			[2]json.Number{json.Number(fmt.Sprintf("%d", (target-7200)*1000)), "1990.10"},
			[2]json.Number{json.Number(fmt.Sprintf("%d", (target-600)*1000)), "2001.55"},
			[2]json.Number{json.Number(fmt.Sprintf("%d", (target+3600)*1000)), "2010.00"},
		))
	})

	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)
	point, err := service.GetPrice(context.Background(), eth, "usd", target)
	require.NoError(t, err)

	assert.True(t, point.Price.Equal(decimal.RequireFromString("2001.55")))
	assert.Equal(t, "USD", point.Currency)
	assert.Equal(t, "coingecko", point.Source)
	assert.Equal(t, target-600, point.Timestamp)
}

func TestCoinGeckoTokenUsesContractPath(t *testing.T) {
	service := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/arbitrum-one/contract/0xff97a0b4f45cef9f2b5b3c5a5f6e2f8ac29c45de/market_chart/range", r.URL.Path)
		w.Write(chartResponse([2]json.Number{"1700000000000", "1.0001"}))
	})

	usdt := types.NewTokenAsset(types.ChainArbitrum, "USDT", "Tether USD", 6, "0xFF97a0B4f45CEf9f2B5B3C5a5F6E2F8aC29C45dE")
	point, err := service.GetPrice(context.Background(), usdt, "USD", 1700000100)
	require.NoError(t, err)
	assert.True(t, point.Price.Equal(decimal.RequireFromString("1.0001")))
}

func TestCoinGeckoPriceIDOverride(t *testing.T) {
	service := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/coins/wrapped-steth/market_chart/range", r.URL.Path)
		w.Write(chartResponse([2]json.Number{"1700000000000", "2300"}))
	})

	wsteth := types.NewTokenAsset(types.ChainEthereum, "wstETH", "Wrapped stETH", 18, "0x7f39c5")
	priceID := "wrapped-steth"
	wsteth.PriceID = &priceID

	_, err := service.GetPrice(context.Background(), wsteth, "USD", 1700000000)
	require.NoError(t, err)
}

func TestCoinGeckoUnlistedAsset(t *testing.T) {
	service := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	token := types.NewTokenAsset(types.ChainEthereum, "JUNK", "Junk", 18, "0xdead")
	_, err := service.GetPrice(context.Background(), token, "USD", 1700000000)
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

func TestCoinGeckoEmptyChart(t *testing.T) {
	service := newTestCoinGecko(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(chartResponse())
	})

	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)
	_, err := service.GetPrice(context.Background(), eth, "USD", 1700000000)
	require.ErrorIs(t, err, ErrPriceUnavailable)
}

// flakyPriceService fails every call with a provider error.
type flakyPriceService struct {
	calls int
	err   error
}

func (s *flakyPriceService) GetPrice(context.Context, types.Asset, string, int64) (PricePoint, error) {
	s.calls++
	return PricePoint{}, s.err
}

func TestBreakerPriceServiceOpensOnProviderFailures(t *testing.T) {
	upstream := &flakyPriceService{err: errors.New("connection refused")}
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "test", MaxFailures: 2})
	service := NewBreakerPriceService(upstream, breaker)

	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)

	for i := 0; i < 2; i++ {
		_, err := service.GetPrice(context.Background(), eth, "USD", 1700000000)
		require.Error(t, err)
	}

	// Open breaker short-circuits to price-unavailable without calling out.
	_, err := service.GetPrice(context.Background(), eth, "USD", 1700000000)
	require.ErrorIs(t, err, ErrPriceUnavailable)
	assert.Equal(t, 2, upstream.calls)
}

func TestBreakerPriceServiceIgnoresUnavailable(t *testing.T) {
	upstream := &flakyPriceService{err: fmt.Errorf("%w: asset not listed", ErrPriceUnavailable)}
	breaker := circuitbreaker.New(circuitbreaker.Config{Name: "test", MaxFailures: 2})
	service := NewBreakerPriceService(upstream, breaker)

	eth := types.NewNativeAsset(types.ChainEthereum, "ETH", "Ether", 18)

	for i := 0; i < 5; i++ {
		_, err := service.GetPrice(context.Background(), eth, "USD", 1700000000)
		require.ErrorIs(t, err, ErrPriceUnavailable)
	}
	assert.Equal(t, 5, upstream.calls)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())
}
