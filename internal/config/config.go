// Package config provides configuration management for the chain ledger
// application. It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Chains   ChainsConfig
	Pricing  PricingConfig
	Tax      TaxConfig
	Sync     SyncConfig
	Logging  LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
	// RateLimitPerSecond bounds API requests per client IP. Zero disables
	// limiting.
	RateLimitPerSecond float64
	RateLimitBurst     int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainsConfig holds chain configuration
type ChainsConfig struct {
	Enabled []string
	Chains  map[string]ChainConfig
}

// ChainConfig holds configuration for a specific chain
type ChainConfig struct {
	RPCPrimary   string
	RPCSecondary string
	PollInterval time.Duration
}

// PricingConfig holds price enrichment configuration
type PricingConfig struct {
	BaseCurrency string
	CacheTTL     time.Duration
	// RequestsPerSecond bounds outbound price lookups per provider.
	RequestsPerSecond float64
	Burst             int
}

// TaxConfig holds tax engine configuration
type TaxConfig struct {
	Jurisdiction string
	// DefaultMethod is the lot-matching strategy used when a wallet has no
	// explicit preference.
	DefaultMethod string
	// LongTermThresholdDays is the minimum holding period, in days, for
	// long-term treatment.
	LongTermThresholdDays int
}

// SyncConfig holds sync worker configuration
type SyncConfig struct {
	// MaxConcurrentAddresses bounds the per-chain fan-out when syncing.
	MaxConcurrentAddresses int
	BatchSize              int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:               getEnv("SERVER_PORT", "8080"),
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			RateLimitPerSecond: getEnvAsFloat("SERVER_RATE_LIMIT_PER_SECOND", 0),
			RateLimitBurst:     getEnvAsInt("SERVER_RATE_LIMIT_BURST", 0),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "chain_ledger"),
				User:           getEnv("POSTGRES_USER", "ledger"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "chain_ledger"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Pricing: PricingConfig{
			BaseCurrency:      getEnv("PRICING_BASE_CURRENCY", "USD"),
			CacheTTL:          getEnvAsDuration("PRICING_CACHE_TTL", 24*time.Hour),
			RequestsPerSecond: getEnvAsFloat("PRICING_REQUESTS_PER_SECOND", 5),
			Burst:             getEnvAsInt("PRICING_BURST", 10),
		},
		Tax: TaxConfig{
			Jurisdiction:          getEnv("TAX_JURISDICTION", "US"),
			DefaultMethod:         getEnv("TAX_DEFAULT_METHOD", "fifo"),
			LongTermThresholdDays: getEnvAsInt("TAX_LONG_TERM_THRESHOLD_DAYS", 365),
		},
		Sync: SyncConfig{
			MaxConcurrentAddresses: getEnvAsInt("SYNC_MAX_CONCURRENT_ADDRESSES", 8),
			BatchSize:              getEnvAsInt("SYNC_BATCH_SIZE", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Load chain configurations
	config.Chains = loadChainConfigs()

	return config, nil
}

// loadChainConfigs loads chain-specific configurations
func loadChainConfigs() ChainsConfig {
	enabledChains := strings.Split(getEnv("ENABLED_CHAINS", "bitcoin,ethereum,polygon,arbitrum,optimism,base,solana"), ",")

	chains := make(map[string]ChainConfig)
	for _, chain := range enabledChains {
		chain = strings.TrimSpace(chain)
		if chain == "" {
			continue
		}

		prefix := strings.ToUpper(chain)
		chains[chain] = ChainConfig{
			RPCPrimary:   getEnv(prefix+"_RPC_PRIMARY", ""),
			RPCSecondary: getEnv(prefix+"_RPC_SECONDARY", ""),
			PollInterval: getEnvAsDuration(prefix+"_POLL_INTERVAL", 15*time.Second),
		}
	}

	return ChainsConfig{
		Enabled: enabledChains,
		Chains:  chains,
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
