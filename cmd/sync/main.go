// Package main provides the standalone sync worker. It ingests one wallet's
// addresses either once or on an interval, without running the API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chain-ledger/internal/adapter"
	"github.com/chain-ledger/internal/circuitbreaker"
	"github.com/chain-ledger/internal/config"
	"github.com/chain-ledger/internal/ledger"
	"github.com/chain-ledger/internal/logging"
	"github.com/chain-ledger/internal/pricing"
	"github.com/chain-ledger/internal/storage"
	"github.com/chain-ledger/internal/tax"
	"github.com/chain-ledger/internal/types"
	"github.com/chain-ledger/internal/worker"
)

func main() {
	var (
		walletID  = flag.String("wallet", "", "Wallet identifier to sync")
		addresses = flag.String("addresses", "", "Addresses to sync, as chain=addr1,addr2 groups separated by ';'")
		interval  = flag.Duration("interval", 0, "Resync interval; 0 runs a single sync and exits")
	)
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()

	if *walletID == "" || *addresses == "" {
		logger.Fatal("Both -wallet and -addresses are required")
	}
	ws, err := parseWalletSync(*walletID, *addresses)
	if err != nil {
		logger.WithError(err).Fatal("Invalid -addresses value")
	}

	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	txRepo := storage.NewTransactionRepository(clickhouse)
	lotRepo := storage.NewLotRepository(postgres)

	priceUpstream := pricing.NewBreakerPriceService(
		pricing.NewCoinGeckoService(os.Getenv("COINGECKO_API_KEY")),
		circuitbreaker.New(circuitbreaker.Config{Name: "coingecko"}),
	)
	prices := pricing.NewCachingPriceService(pricing.CachingPriceServiceConfig{
		Upstream:          priceUpstream,
		Cache:             storage.NewRedisPriceCache(redis),
		TTL:               cfg.Pricing.CacheTTL,
		RequestsPerSecond: cfg.Pricing.RequestsPerSecond,
		Burst:             cfg.Pricing.Burst,
	})

	engine := tax.NewEngine(tax.EngineConfig{
		Ledger: ledger.New(ledger.Config{
			Store:                 lotRepo,
			LongTermThresholdDays: cfg.Tax.LongTermThresholdDays,
		}),
		Method: types.CostBasisMethod(cfg.Tax.DefaultMethod),
	})

	adapters := buildAdapters(cfg, logger)
	if len(adapters) == 0 {
		logger.Fatal("No chain adapters initialized")
	}

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Adapters:               adapters,
		Enricher:               pricing.NewEnricher(prices, cfg.Pricing.BaseCurrency),
		Categorizer:            tax.NewCategorizer(tax.CategorizerConfig{}),
		Engine:                 engine,
		Sink:                   txRepo,
		MaxConcurrentAddresses: cfg.Sync.MaxConcurrentAddresses,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField("signal", sig.String()).Info("Shutting down")
		cancel()
	}()

	if *interval > 0 {
		syncWorker.RunLoop(ctx, ws, *interval)
		return
	}

	result, err := syncWorker.SyncWallet(ctx, ws)
	if err != nil {
		logger.WithError(err).Fatal("Sync failed")
	}
	logger.WithFields(map[string]interface{}{
		"fetched":     result.Fetched,
		"processed":   result.Processed,
		"taxFailures": result.TaxFailures,
	}).Info("Sync complete")
}

// parseWalletSync parses "chain=addr1,addr2;chain2=addr3" into a WalletSync.
func parseWalletSync(walletID, spec string) (worker.WalletSync, error) {
	ws := worker.WalletSync{
		WalletID:  walletID,
		Addresses: make(map[types.Chain][]string),
	}

	for _, group := range strings.Split(spec, ";") {
		group = strings.TrimSpace(group)
		if group == "" {
			continue
		}
		chainName, list, ok := strings.Cut(group, "=")
		if !ok {
			return ws, fmt.Errorf("expected chain=addr1,addr2 but got %q", group)
		}
		chain := types.Chain(strings.TrimSpace(chainName))
		for _, addr := range strings.Split(list, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				ws.Addresses[chain] = append(ws.Addresses[chain], addr)
			}
		}
	}

	if len(ws.Addresses) == 0 {
		return ws, fmt.Errorf("no addresses in %q", spec)
	}
	return ws, nil
}

// evmChains are the EVM-compatible chains the worker can serve.
var evmChains = map[string]types.Chain{
	"ethereum": types.ChainEthereum,
	"polygon":  types.ChainPolygon,
	"arbitrum": types.ChainArbitrum,
	"optimism": types.ChainOptimism,
	"base":     types.ChainBase,
}

// buildAdapters creates one chain adapter per enabled, configured chain.
func buildAdapters(cfg *config.Config, logger *logging.Logger) map[types.Chain]adapter.ChainAdapter {
	adapters := make(map[types.Chain]adapter.ChainAdapter)
	registry := adapter.NewStaticTokenRegistry()
	etherscanAPIKey := os.Getenv("ETHERSCAN_API_KEY")

	for _, chainName := range cfg.Chains.Enabled {
		chainCfg := cfg.Chains.Chains[chainName]
		chainLogger := logger.WithField("chain", chainName)

		switch {
		case chainName == "bitcoin":
			primary := chainCfg.RPCPrimary
			if primary == "" {
				primary = "https://blockstream.info/api"
			}
			provider, err := adapter.NewRPCProvider(primary, chainCfg.RPCSecondary)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			source, err := adapter.NewEsploraSource(provider)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			adapters[types.ChainBitcoin] = adapter.NewBitcoinAdapter(source)

		case chainName == "solana":
			if chainCfg.RPCPrimary == "" {
				chainLogger.Warn("Skipping chain: no RPC endpoint configured")
				continue
			}
			provider, err := adapter.NewRPCProvider(chainCfg.RPCPrimary, chainCfg.RPCSecondary)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			source, err := adapter.NewSolanaRPCSource(provider)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			adapters[types.ChainSolana] = adapter.NewSolanaAdapter(source, registry)

		default:
			chain, ok := evmChains[chainName]
			if !ok {
				chainLogger.Warn("Skipping unknown chain")
				continue
			}
			if chainCfg.RPCPrimary == "" {
				chainLogger.Warn("Skipping chain: no RPC endpoint configured")
				continue
			}

			urls := chainCfg.RPCPrimary
			if chainCfg.RPCSecondary != "" {
				urls += "," + chainCfg.RPCSecondary
			}
			pool, err := adapter.NewRPCPoolFromURLs(urls)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			index, err := adapter.NewEtherscanClient(adapter.EtherscanClientConfig{
				APIKey: etherscanAPIKey,
				Chain:  chainName,
			})
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			source, err := adapter.NewRPCEthereumSource(index, pool)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			evmAdapter, err := adapter.NewEthereumAdapter(chain, source, registry)
			if err != nil {
				chainLogger.WithError(err).Warn("Skipping chain")
				continue
			}
			adapters[chain] = evmAdapter
		}

		logger.WithField("chain", chainName).Info("Chain adapter initialized")
	}

	return adapters
}
