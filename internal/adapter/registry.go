package adapter

import (
	"strings"

	"github.com/chain-ledger/internal/types"
)

// StaticTokenRegistry is an in-memory TokenRegistry seeded with well-known
// tokens. Contract addresses are matched case-insensitively.
type StaticTokenRegistry struct {
	assets map[string]types.Asset
}

// NewStaticTokenRegistry creates a registry with the default token set.
func NewStaticTokenRegistry() *StaticTokenRegistry {
	r := &StaticTokenRegistry{assets: make(map[string]types.Asset)}
	for _, asset := range defaultTokens() {
		r.Register(asset)
	}
	return r
}

// Register adds or replaces a token entry.
func (r *StaticTokenRegistry) Register(asset types.Asset) {
	if asset.ContractAddress == nil {
		return
	}
	r.assets[registryKey(asset.Chain, *asset.ContractAddress)] = asset
}

// Lookup implements TokenRegistry.
func (r *StaticTokenRegistry) Lookup(chain types.Chain, contract string) (types.Asset, bool) {
	asset, ok := r.assets[registryKey(chain, contract)]
	return asset, ok
}

func registryKey(chain types.Chain, contract string) string {
	return string(chain) + "/" + strings.ToLower(contract)
}

func defaultTokens() []types.Asset {
	return []types.Asset{
		types.NewTokenAsset(types.ChainEthereum, "USDC", "USD Coin", 6, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		types.NewTokenAsset(types.ChainEthereum, "USDT", "Tether USD", 6, "0xdAC17F958D2ee523a2206206994597C13D831ec7"),
		types.NewTokenAsset(types.ChainEthereum, "DAI", "Dai Stablecoin", 18, "0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		types.NewTokenAsset(types.ChainEthereum, "WETH", "Wrapped Ether", 18, "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"),
		types.NewTokenAsset(types.ChainEthereum, "WBTC", "Wrapped BTC", 8, "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),
		types.NewTokenAsset(types.ChainArbitrum, "USDC", "USD Coin", 6, "0xaf88d065e77c8cC2239327C5EDb3A432268e5831"),
		types.NewTokenAsset(types.ChainOptimism, "USDC", "USD Coin", 6, "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"),
		types.NewTokenAsset(types.ChainBase, "USDC", "USD Coin", 6, "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		types.NewTokenAsset(types.ChainPolygon, "USDC", "USD Coin", 6, "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"),
		types.NewTokenAsset(types.ChainSolana, "USDC", "USD Coin", 6, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"),
		types.NewTokenAsset(types.ChainSolana, "USDT", "Tether USD", 6, "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"),
	}
}
