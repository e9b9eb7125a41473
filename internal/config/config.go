// Package config loads engine configuration from a TOML file with
// PNLENGINE_* environment variable overrides for secrets.
package config

import (
	"fmt"

	"solana-pnl-engine/internal/aggregator"
	"solana-pnl-engine/internal/cache"
	"solana-pnl-engine/internal/provider"
)

// Config is the full engine configuration, loaded from a TOML file and then
// optionally overridden by PNLENGINE_* environment variables.
type Config struct {
	Providers  ProvidersConfig  `toml:"providers"`
	Retry      RetryConfig      `toml:"retry"`
	Cache      CacheConfig      `toml:"cache"`
	Aggregator AggregatorConfig `toml:"aggregator"`
	Storage    StorageConfig    `toml:"storage"`
	Server     ServerConfig     `toml:"server"`
}

// ProvidersConfig holds per-provider credentials and rate limits.
type ProvidersConfig struct {
	Primary string         `toml:"primary"`
	Birdeye BirdeyeConfig  `toml:"birdeye"`
	Solscan SolscanConfig  `toml:"solscan"`
	Helius  HeliusConfig   `toml:"helius"`
}

// BirdeyeConfig configures the Birdeye provider.
type BirdeyeConfig struct {
	Enabled       bool   `toml:"enabled"`
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url"`
	MinIntervalMs int    `toml:"min_interval_ms"`
	MaxPerMinute  int    `toml:"max_per_minute"`
}

// SolscanConfig configures the Solscan provider.
type SolscanConfig struct {
	Enabled      bool   `toml:"enabled"`
	APIToken     string `toml:"api_token"`
	BaseURL      string `toml:"base_url"`
	MaxPerMinute int    `toml:"max_per_minute"`
}

// HeliusConfig configures the Helius provider.
type HeliusConfig struct {
	Enabled       bool   `toml:"enabled"`
	APIKey        string `toml:"api_key"`
	BaseURL       string `toml:"base_url"`
	MinIntervalMs int    `toml:"min_interval_ms"`
	MaxPerMinute  int    `toml:"max_per_minute"`
}

// RetryConfig bounds provider retries.
type RetryConfig struct {
	MaxAttempts   int `toml:"max_attempts"`
	BackoffBaseMs int `toml:"backoff_base_ms"`
	BackoffMaxMs  int `toml:"backoff_max_ms"`
}

// CacheConfig sizes the result cache.
type CacheConfig struct {
	Capacity   int `toml:"capacity"`
	TTLSeconds int `toml:"ttl_seconds"`
}

// AggregatorConfig tunes cross-source merging.
type AggregatorConfig struct {
	ConflictTolerance float64 `toml:"conflict_tolerance"`
	ProviderTimeoutMs int     `toml:"provider_timeout_ms"`
}

// StorageConfig selects and connects the storage backends.
type StorageConfig struct {
	// UseMemory switches both stores to in-memory implementations; DSNs
	// are ignored when set.
	UseMemory     bool   `toml:"use_memory"`
	PostgresDSN   string `toml:"postgres_dsn"`
	ClickhouseDSN string `toml:"clickhouse_dsn"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Providers: ProvidersConfig{
			Primary: provider.BirdeyeName,
			Birdeye: BirdeyeConfig{Enabled: true},
			Solscan: SolscanConfig{Enabled: true},
			Helius:  HeliusConfig{Enabled: true},
		},
		Retry: RetryConfig{
			MaxAttempts:   aggregator.DefaultMaxAttempts,
			BackoffBaseMs: 500,
			BackoffMaxMs:  5000,
		},
		Cache: CacheConfig{
			Capacity:   cache.DefaultCapacity,
			TTLSeconds: 60,
		},
		Aggregator: AggregatorConfig{
			ConflictTolerance: aggregator.DefaultConflictTolerance,
			ProviderTimeoutMs: 30000,
		},
		Storage: StorageConfig{
			UseMemory: true,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MetricsAddr: ":9090",
		},
	}
}

// Validate checks cross-field consistency after Load.
func (c *Config) Validate() error {
	if !c.Providers.Birdeye.Enabled && !c.Providers.Solscan.Enabled && !c.Providers.Helius.Enabled {
		return fmt.Errorf("at least one provider must be enabled")
	}
	switch c.Providers.Primary {
	case provider.BirdeyeName, provider.SolscanName, provider.HeliusName:
	default:
		return fmt.Errorf("unknown primary provider %q", c.Providers.Primary)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Cache.Capacity < 1 {
		return fmt.Errorf("cache.capacity must be >= 1")
	}
	if c.Aggregator.ConflictTolerance <= 0 {
		return fmt.Errorf("aggregator.conflict_tolerance must be > 0")
	}
	if !c.Storage.UseMemory && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("storage.postgres_dsn required when use_memory is false")
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	return nil
}
