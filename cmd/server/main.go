// Package main provides the API server entry point for the chain ledger
// service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chain-ledger/internal/adapter"
	"github.com/chain-ledger/internal/api"
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
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.Fatalf("Failed to load configuration: %v", err)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	logger := logging.GetGlobalLogger()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Database connections
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

	logger.Info("Database connections established")

	// Repositories
	txRepo := storage.NewTransactionRepository(clickhouse)
	lotRepo := storage.NewLotRepository(postgres)
	priceCache := storage.NewRedisPriceCache(redis)

	// Pricing pipeline
	priceUpstream := pricing.NewBreakerPriceService(
		pricing.NewCoinGeckoService(os.Getenv("COINGECKO_API_KEY")),
		circuitbreaker.New(circuitbreaker.Config{Name: "coingecko"}),
	)
	prices := pricing.NewCachingPriceService(pricing.CachingPriceServiceConfig{
		Upstream:          priceUpstream,
		Cache:             priceCache,
		TTL:               cfg.Pricing.CacheTTL,
		RequestsPerSecond: cfg.Pricing.RequestsPerSecond,
		Burst:             cfg.Pricing.Burst,
	})
	enricher := pricing.NewEnricher(prices, cfg.Pricing.BaseCurrency)

	// Tax pipeline
	lotLedger := ledger.New(ledger.Config{
		Store:                 lotRepo,
		LongTermThresholdDays: cfg.Tax.LongTermThresholdDays,
	})
	engine := tax.NewEngine(tax.EngineConfig{
		Ledger: lotLedger,
		Method: types.CostBasisMethod(cfg.Tax.DefaultMethod),
	})
	categorizer := tax.NewCategorizer(tax.CategorizerConfig{})
	reporter := tax.NewReporter(txRepo, cfg.Pricing.BaseCurrency)

	// Chain adapters
	adapters := buildAdapters(cfg, logger)
	if len(adapters) == 0 {
		logger.Warn("No chain adapters initialized - sync requests will fail")
	}

	syncWorker, err := worker.NewSyncWorker(&worker.SyncWorkerConfig{
		Adapters:               adapters,
		Enricher:               enricher,
		Categorizer:            categorizer,
		Engine:                 engine,
		Sink:                   txRepo,
		MaxConcurrentAddresses: cfg.Sync.MaxConcurrentAddresses,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create sync worker")
	}

	serverConfig := &api.ServerConfig{
		Host:               cfg.Server.Host,
		Port:               cfg.Server.Port,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		RateLimitPerSecond: cfg.Server.RateLimitPerSecond,
		RateLimitBurst:     cfg.Server.RateLimitBurst,
	}
	server := api.NewServer(serverConfig, txRepo, reporter, syncWorker)

	// Run the server until interrupted.
	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(map[string]interface{}{
			"host": cfg.Server.Host,
			"port": cfg.Server.Port,
		}).Info("Starting API server")
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Fatal("Server failed")
		}
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("Shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	logger.Info("Server stopped")
}

// evmChains are the EVM-compatible chains the server can serve.
var evmChains = map[string]types.Chain{
	"ethereum": types.ChainEthereum,
	"polygon":  types.ChainPolygon,
	"arbitrum": types.ChainArbitrum,
	"optimism": types.ChainOptimism,
	"base":     types.ChainBase,
}

// buildAdapters creates one chain adapter per enabled, configured chain.
// Misconfigured chains are skipped with a warning rather than failing boot.
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
