package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies VENUEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known VENUEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Executor.PrivateKey, "VENUEBOT_EXECUTOR_PRIVATE_KEY")
	setStr(&cfg.Executor.EncryptedKeyPath, "VENUEBOT_EXECUTOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Executor.KeyPassword, "VENUEBOT_EXECUTOR_KEY_PASSWORD")

	setStr(&cfg.Chains.ArbitrumRPC, "VENUEBOT_ARBITRUM_RPC")
	setStr(&cfg.Chains.BaseRPC, "VENUEBOT_BASE_RPC")
	setInt(&cfg.Chains.ConfirmTimeoutSec, "VENUEBOT_CONFIRM_TIMEOUT_SEC")

	setFloat64(&cfg.Module.TradeFeeUSD, "VENUEBOT_MODULE_TRADE_FEE_USD")
	setFloat64(&cfg.Module.ProfitSharePct, "VENUEBOT_MODULE_PROFIT_SHARE_PCT")

	setStr(&cfg.Spot.RouterAddress, "VENUEBOT_SPOT_ROUTER_ADDRESS")
	setStr(&cfg.Spot.QuoterAddress, "VENUEBOT_SPOT_QUOTER_ADDRESS")
	setInt(&cfg.Spot.SlippageBps, "VENUEBOT_SPOT_SLIPPAGE_BPS")

	setStr(&cfg.GMX.ReaderAddress, "VENUEBOT_GMX_READER_ADDRESS")
	setInt(&cfg.GMX.SlippageBps, "VENUEBOT_GMX_SLIPPAGE_BPS")

	setStr(&cfg.Hyperliquid.ServiceURL, "VENUEBOT_HYPERLIQUID_SERVICE_URL")
	setStr(&cfg.Hyperliquid.WsURL, "VENUEBOT_HYPERLIQUID_WS_URL")
	setStr(&cfg.Ostium.ServiceURL, "VENUEBOT_OSTIUM_SERVICE_URL")

	setStr(&cfg.Postgres.DSN, "VENUEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "VENUEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "VENUEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "VENUEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "VENUEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "VENUEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "VENUEBOT_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "VENUEBOT_POSTGRES_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "VENUEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "VENUEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "VENUEBOT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "VENUEBOT_REDIS_TLS_ENABLED")

	setStr(&cfg.S3.Endpoint, "VENUEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "VENUEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "VENUEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "VENUEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "VENUEBOT_S3_SECRET_KEY")

	setFloat64(&cfg.Risk.HardStopPct, "VENUEBOT_RISK_HARD_STOP_PCT")
	setFloat64(&cfg.Risk.ActivationPct, "VENUEBOT_RISK_ACTIVATION_PCT")
	setFloat64(&cfg.Risk.TrailPct, "VENUEBOT_RISK_TRAIL_PCT")

	setInt(&cfg.Monitor.IntervalSec, "VENUEBOT_MONITOR_INTERVAL_SEC")
	setInt(&cfg.Monitor.LockTTLSec, "VENUEBOT_MONITOR_LOCK_TTL_SEC")
	setStringSlice(&cfg.Monitor.Venues, "VENUEBOT_MONITOR_VENUES")

	setBool(&cfg.Server.Enabled, "VENUEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "VENUEBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "VENUEBOT_SERVER_API_KEY")

	setStr(&cfg.Notify.TelegramToken, "VENUEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "VENUEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "VENUEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "VENUEBOT_NOTIFY_EVENTS")

	setBool(&cfg.Archive.Enabled, "VENUEBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "VENUEBOT_ARCHIVE_RETENTION_DAYS")

	setStr(&cfg.Mode, "VENUEBOT_MODE")
	setStr(&cfg.LogLevel, "VENUEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

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

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
