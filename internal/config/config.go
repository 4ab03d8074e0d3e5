// Package config defines the top-level configuration for venuebot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by VENUEBOT_* environment
// variables.
type Config struct {
	Executor    ExecutorConfig    `toml:"executor"`
	Chains      ChainsConfig      `toml:"chains"`
	Module      ModuleConfig      `toml:"module"`
	Spot        SpotConfig        `toml:"spot"`
	GMX         GMXConfig         `toml:"gmx"`
	Hyperliquid HyperliquidConfig `toml:"hyperliquid"`
	Ostium      OstiumConfig      `toml:"ostium"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Risk        RiskConfig        `toml:"risk"`
	Monitor     MonitorConfig     `toml:"monitor"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Archive     ArchiveConfig     `toml:"archive"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// ExecutorConfig holds the executor signing key. The key either comes raw
// from the environment or encrypted at rest on disk.
type ExecutorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainsConfig holds RPC endpoints per supported chain.
type ChainsConfig struct {
	ArbitrumRPC string `toml:"arbitrum_rpc"`
	BaseRPC     string `toml:"base_rpc"`
	// ConfirmTimeoutSec bounds the wait for on-chain confirmation.
	ConfirmTimeoutSec int `toml:"confirm_timeout_sec"`
}

// ModuleConfig holds execution-module parameters shared by on-chain venues.
type ModuleConfig struct {
	// TradeFeeUSD is the flat platform fee charged per trade in the funding
	// asset. Charged additively, never netted out of the trade amount.
	TradeFeeUSD float64 `toml:"trade_fee_usd"`
	// ProfitSharePct is the fraction of positive realized P&L distributed to
	// the strategy owner on close.
	ProfitSharePct float64 `toml:"profit_share_pct"`
	// FundingToken is the funding-asset (USDC) address per chain id.
	FundingToken map[string]string `toml:"funding_token"`
}

// SpotConfig holds spot-DEX parameters.
type SpotConfig struct {
	RouterAddress string `toml:"router_address"`
	QuoterAddress string `toml:"quoter_address"`
	PoolFeeBps    int    `toml:"pool_fee_bps"`
	SlippageBps   int    `toml:"slippage_bps"`
	DeadlineSec   int    `toml:"deadline_sec"`
}

// GMXConfig holds on-chain perp parameters.
type GMXConfig struct {
	ReaderAddress   string  `toml:"reader_address"`
	ExecutionFeeETH float64 `toml:"execution_fee_eth"`
	SlippageBps     int     `toml:"slippage_bps"`
	MinCollateral   float64 `toml:"min_collateral_usd"`
}

// HyperliquidConfig holds sidecar and websocket endpoints for the off-chain
// perp venue.
type HyperliquidConfig struct {
	ServiceURL    string  `toml:"service_url"`
	WsURL         string  `toml:"ws_url"`
	TimeoutSec    int     `toml:"timeout_sec"`
	RatePerMinute int     `toml:"rate_per_minute"`
	MinCollateral float64 `toml:"min_collateral_usd"`
}

// OstiumConfig holds the secondary perp venue's sidecar endpoint.
type OstiumConfig struct {
	ServiceURL    string  `toml:"service_url"`
	TimeoutSec    int     `toml:"timeout_sec"`
	RatePerMinute int     `toml:"rate_per_minute"`
	MinCollateral float64 `toml:"min_collateral_usd"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// PriceTTLSec bounds mark-price cache staleness.
	PriceTTLSec int `toml:"price_ttl_sec"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig holds the exit state-machine thresholds, expressed as fractions.
type RiskConfig struct {
	HardStopPct   float64 `toml:"hard_stop_pct"`
	ActivationPct float64 `toml:"activation_pct"`
	TrailPct      float64 `toml:"trail_pct"`
}

// MonitorConfig holds polling-loop parameters.
type MonitorConfig struct {
	IntervalSec int `toml:"interval_sec"`
	// LockTTLSec is the distributed-lease staleness timeout after which a
	// fresh instance may reclaim a crashed holder's lock.
	LockTTLSec int `toml:"lock_ttl_sec"`
	// Venues selects the venue families this instance monitors.
	Venues []string `toml:"venues"`
}

// ServerConfig holds admin HTTP API parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	APIKey  string `toml:"api_key"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
	IntervalHours int  `toml:"interval_hours"`
}

// Defaults returns a Config with sane defaults applied.
func Defaults() Config {
	return Config{
		Mode:     "full",
		LogLevel: "info",
		Chains: ChainsConfig{
			ArbitrumRPC:       "https://arb1.arbitrum.io/rpc",
			ConfirmTimeoutSec: 60,
		},
		Module: ModuleConfig{
			TradeFeeUSD:    0.2,
			ProfitSharePct: 0.20,
		},
		Spot: SpotConfig{
			PoolFeeBps:  30,
			SlippageBps: 100,
			DeadlineSec: 1200,
		},
		GMX: GMXConfig{
			ExecutionFeeETH: 0.0005,
			SlippageBps:     50,
			MinCollateral:   1.5,
		},
		Hyperliquid: HyperliquidConfig{
			TimeoutSec:    10,
			RatePerMinute: 120,
			MinCollateral: 10,
		},
		Ostium: OstiumConfig{
			TimeoutSec:    10,
			RatePerMinute: 60,
			MinCollateral: 5,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PriceTTLSec: 30,
		},
		Risk: RiskConfig{
			HardStopPct:   0.10,
			ActivationPct: 0.03,
			TrailPct:      0.01,
		},
		Monitor: MonitorConfig{
			IntervalSec: 60,
			LockTTLSec:  300,
			Venues:      []string{"SPOT", "GMX", "HYPERLIQUID", "OSTIUM"},
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			IntervalHours: 24,
		},
	}
}

// Validate checks the configuration for the selected mode and returns the
// first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "execute", "monitor", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Postgres.DSN == "" && (c.Postgres.Host == "" || c.Postgres.Database == "" || c.Postgres.User == "") {
		return fmt.Errorf("config: postgres connection is not configured")
	}
	if c.Executor.PrivateKey == "" && c.Executor.EncryptedKeyPath == "" {
		return fmt.Errorf("config: executor key is not configured")
	}
	if c.Risk.HardStopPct <= 0 || c.Risk.HardStopPct >= 1 {
		return fmt.Errorf("config: risk.hard_stop_pct must be in (0,1), got %v", c.Risk.HardStopPct)
	}
	if c.Risk.TrailPct <= 0 || c.Risk.TrailPct >= c.Risk.HardStopPct {
		return fmt.Errorf("config: risk.trail_pct must be in (0, hard_stop_pct)")
	}
	if c.Risk.ActivationPct <= 0 {
		return fmt.Errorf("config: risk.activation_pct must be positive")
	}
	if c.Monitor.IntervalSec <= 0 {
		return fmt.Errorf("config: monitor.interval_sec must be positive")
	}
	if c.Monitor.LockTTLSec < c.Monitor.IntervalSec {
		return fmt.Errorf("config: monitor.lock_ttl_sec is too small for the poll interval")
	}
	if c.Server.Enabled && c.Server.APIKey == "" {
		return fmt.Errorf("config: server.api_key is required when the server is enabled")
	}
	if c.Module.ProfitSharePct < 0 || c.Module.ProfitSharePct >= 1 {
		return fmt.Errorf("config: module.profit_share_pct must be in [0,1)")
	}
	for _, v := range c.Monitor.Venues {
		switch v {
		case "SPOT", "GMX", "HYPERLIQUID", "OSTIUM":
		default:
			return fmt.Errorf("config: unknown monitor venue %q", v)
		}
	}
	return nil
}
