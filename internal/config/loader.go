package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PNLENGINE_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment. The returned Config has NOT been validated; the caller
// should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PNLENGINE_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Providers.Primary, "PNLENGINE_PROVIDERS_PRIMARY")

	setBool(&cfg.Providers.Birdeye.Enabled, "PNLENGINE_BIRDEYE_ENABLED")
	setStr(&cfg.Providers.Birdeye.APIKey, "PNLENGINE_BIRDEYE_API_KEY")
	setStr(&cfg.Providers.Birdeye.BaseURL, "PNLENGINE_BIRDEYE_BASE_URL")
	setInt(&cfg.Providers.Birdeye.MinIntervalMs, "PNLENGINE_BIRDEYE_MIN_INTERVAL_MS")
	setInt(&cfg.Providers.Birdeye.MaxPerMinute, "PNLENGINE_BIRDEYE_MAX_PER_MINUTE")

	setBool(&cfg.Providers.Solscan.Enabled, "PNLENGINE_SOLSCAN_ENABLED")
	setStr(&cfg.Providers.Solscan.APIToken, "PNLENGINE_SOLSCAN_API_TOKEN")
	setStr(&cfg.Providers.Solscan.BaseURL, "PNLENGINE_SOLSCAN_BASE_URL")
	setInt(&cfg.Providers.Solscan.MaxPerMinute, "PNLENGINE_SOLSCAN_MAX_PER_MINUTE")

	setBool(&cfg.Providers.Helius.Enabled, "PNLENGINE_HELIUS_ENABLED")
	setStr(&cfg.Providers.Helius.APIKey, "PNLENGINE_HELIUS_API_KEY")
	setStr(&cfg.Providers.Helius.BaseURL, "PNLENGINE_HELIUS_BASE_URL")
	setInt(&cfg.Providers.Helius.MinIntervalMs, "PNLENGINE_HELIUS_MIN_INTERVAL_MS")
	setInt(&cfg.Providers.Helius.MaxPerMinute, "PNLENGINE_HELIUS_MAX_PER_MINUTE")

	setInt(&cfg.Retry.MaxAttempts, "PNLENGINE_RETRY_MAX_ATTEMPTS")
	setInt(&cfg.Retry.BackoffBaseMs, "PNLENGINE_RETRY_BACKOFF_BASE_MS")
	setInt(&cfg.Retry.BackoffMaxMs, "PNLENGINE_RETRY_BACKOFF_MAX_MS")

	setInt(&cfg.Cache.Capacity, "PNLENGINE_CACHE_CAPACITY")
	setInt(&cfg.Cache.TTLSeconds, "PNLENGINE_CACHE_TTL_SECONDS")

	setFloat64(&cfg.Aggregator.ConflictTolerance, "PNLENGINE_AGGREGATOR_CONFLICT_TOLERANCE")
	setInt(&cfg.Aggregator.ProviderTimeoutMs, "PNLENGINE_AGGREGATOR_PROVIDER_TIMEOUT_MS")

	setBool(&cfg.Storage.UseMemory, "PNLENGINE_STORAGE_USE_MEMORY")
	setStr(&cfg.Storage.PostgresDSN, "PNLENGINE_STORAGE_POSTGRES_DSN")
	setStr(&cfg.Storage.ClickhouseDSN, "PNLENGINE_STORAGE_CLICKHOUSE_DSN")

	setStr(&cfg.Server.Addr, "PNLENGINE_SERVER_ADDR")
	setStr(&cfg.Server.MetricsAddr, "PNLENGINE_SERVER_METRICS_ADDR")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
