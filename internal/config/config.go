// Package config defines the top-level configuration for the trader and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by SOLTRADER_* environment
// variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	RPC      RPCConfig      `toml:"rpc"`
	Venues   VenuesConfig   `toml:"venues"`
	Jito     JitoConfig     `toml:"jito"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Risk     RiskConfig     `toml:"risk"`
	Drawdown DrawdownConfig `toml:"drawdown"`
	Monitor  MonitorConfig  `toml:"monitor"`
	Exits    ExitsConfig    `toml:"exits"`
	Router   RouterConfig   `toml:"router"`
	Feed     FeedConfig     `toml:"feed"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds Solana keypair credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"` // base58-encoded 64-byte keypair
	PublicKey        string `toml:"public_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RPCConfig holds Solana JSON-RPC endpoint parameters.
type RPCConfig struct {
	Endpoint       string   `toml:"endpoint"`
	Commitment     string   `toml:"commitment"`
	RequestTimeout duration `toml:"request_timeout"`
}

// VenuesConfig holds swap-venue endpoints and execution parameters.
type VenuesConfig struct {
	JupiterHost        string  `toml:"jupiter_host"`
	PumpHost           string  `toml:"pump_host"`
	DefaultSlippageBps int     `toml:"default_slippage_bps"`
	PriorityFeeSol     float64 `toml:"priority_fee_sol"`
	PaperTrading       bool    `toml:"paper_trading"`
	PaperSlippageBps   int     `toml:"paper_slippage_bps"`
}

// JitoConfig holds optional atomic bundle-submission parameters.
type JitoConfig struct {
	Enabled      bool     `toml:"enabled"`
	BlockEngine  string   `toml:"block_engine"`
	TipLamports  int64    `toml:"tip_lamports"`
	PollInterval duration `toml:"poll_interval"`
	MaxPolls     int      `toml:"max_polls"`
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
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RiskConfig holds capital-allocator parameters. Pool fractions apply to
// total capital; the reserve is never traded.
type RiskConfig struct {
	InitialCapitalSol   float64  `toml:"initial_capital_sol"`
	ReserveFraction     float64  `toml:"reserve_fraction"`
	ActiveFraction      float64  `toml:"active_fraction"`
	HighRiskFraction    float64  `toml:"high_risk_fraction"`
	MaxPositions        int      `toml:"max_positions"`
	MaxPositionFraction float64  `toml:"max_position_fraction"`
	MinPositionSol      float64  `toml:"min_position_sol"`
	WalletSyncInterval  duration `toml:"wallet_sync_interval"`
}

// DrawdownConfig holds circuit-breaker parameters. The 30% max-drawdown trip
// level is fixed by design and not configurable.
type DrawdownConfig struct {
	DailyLossLimit float64  `toml:"daily_loss_limit"`
	EnforcePause   bool     `toml:"enforce_pause"`
	TickInterval   duration `toml:"tick_interval"`
}

// MonitorConfig holds lifecycle-manager timers.
type MonitorConfig struct {
	TickInterval      duration `toml:"tick_interval"`
	GhostInterval     duration `toml:"ghost_interval"`
	GhostMinAge       duration `toml:"ghost_min_age"`
	GhostGracePeriod  duration `toml:"ghost_grace_period"`
	PersistSampleRate int      `toml:"persist_sample_rate"` // 1-in-N price-only updates persisted
}

// ExitsConfig enumerates every exit-cascade tunable with its unit.
type ExitsConfig struct {
	// Stop loss: base percent plus age-tiered overrides. EarlyPercent
	// applies until EarlyAge, MidPercent until MidAge, then Percent.
	StopLossPercent  float64  `toml:"stop_loss_percent"`
	StopLossEarly    float64  `toml:"stop_loss_early_percent"`
	StopLossEarlyAge duration `toml:"stop_loss_early_age"`
	StopLossMid      float64  `toml:"stop_loss_mid_percent"`
	StopLossMidAge   duration `toml:"stop_loss_mid_age"`
	GracePeriod      duration `toml:"grace_period"`

	// Initial-recovery take profit and scaled exits.
	TakeProfitTrigger  float64 `toml:"take_profit_trigger"`  // fraction, e.g. 0.5 = +50%
	TrailingPercent    float64 `toml:"trailing_percent"`     // fraction below peak
	ScaledExitFraction float64 `toml:"scaled_exit_fraction"` // fraction of remaining sold per interval

	// Protect-profits retrace rule.
	ProtectProfitsMin     float64 `toml:"protect_profits_min"`     // min profit fraction before rule applies
	ProtectProfitsRetrace float64 `toml:"protect_profits_retrace"` // retrace fraction from local peak

	// Flash crash: N consecutive down ticks totalling DropPercent.
	FlashCrashTicks   int      `toml:"flash_crash_ticks"`
	FlashCrashPercent float64  `toml:"flash_crash_percent"`
	VolatilityGrace   duration `toml:"volatility_grace"`

	// Rapid drop shortly after entry.
	RapidDropWindow  duration `toml:"rapid_drop_window"`
	RapidDropPercent float64  `toml:"rapid_drop_percent"`

	// Exhaustion partial take profit.
	ExhaustionMinProfit float64  `toml:"exhaustion_min_profit"`
	ExhaustionNearHigh  float64  `toml:"exhaustion_near_high"` // max fraction below peak
	ExhaustionFraction  float64  `toml:"exhaustion_fraction"`  // fraction of remaining sold
	ExhaustionCooldown  duration `toml:"exhaustion_cooldown"`

	// Hold-time and data-quality guards.
	MaxHoldTime         duration `toml:"max_hold_time"`
	StalePriceThreshold duration `toml:"stale_price_threshold"`
	NoPriceTimeout      duration `toml:"no_price_timeout"`
	YoungPositionGrace  duration `toml:"young_position_grace"`

	FixedFeeSol float64 `toml:"fixed_fee_sol"` // per-slice fee estimate used in PnL
}

// RouterConfig holds transaction-router parameters.
type RouterConfig struct {
	MaxRetries        int      `toml:"max_retries"`
	BackoffBase       duration `toml:"backoff_base"`
	VerifyBalance     bool     `toml:"verify_balance"`
	BalanceRetries    int      `toml:"balance_retries"`
	BalanceRetryDelay duration `toml:"balance_retry_delay"`
	BalanceTolerance  float64  `toml:"balance_tolerance"` // fraction, clamp window
	ConfirmTimeout    duration `toml:"confirm_timeout"`
}

// FeedConfig holds the price-stream adapter parameters.
type FeedConfig struct {
	StreamURL    string   `toml:"stream_url"`
	HistoryDepth int      `toml:"history_depth"`
	CacheTTL     duration `toml:"cache_ttl"`
}

// ArchiveConfig holds history-archival parameters.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	Cron          string `toml:"cron"`
	RetentionDays int    `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		RPC: RPCConfig{
			Endpoint:       "https://api.mainnet-beta.solana.com",
			Commitment:     "confirmed",
			RequestTimeout: duration{20 * time.Second},
		},
		Venues: VenuesConfig{
			JupiterHost:        "https://quote-api.jup.ag/v6",
			PumpHost:           "https://pumpportal.fun/api",
			DefaultSlippageBps: 250,
			PriorityFeeSol:     0.0005,
			PaperTrading:       true,
			PaperSlippageBps:   100,
		},
		Jito: JitoConfig{
			Enabled:      false,
			BlockEngine:  "https://mainnet.block-engine.jito.wtf",
			TipLamports:  100_000,
			PollInterval: duration{2 * time.Second},
			MaxPolls:     15,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "soltrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "soltrader-history",
			ForcePathStyle: true,
		},
		Risk: RiskConfig{
			InitialCapitalSol:   10,
			ReserveFraction:     0.20,
			ActiveFraction:      0.60,
			HighRiskFraction:    0.20,
			MaxPositions:        5,
			MaxPositionFraction: 0.10,
			MinPositionSol:      0.05,
			WalletSyncInterval:  duration{2 * time.Minute},
		},
		Drawdown: DrawdownConfig{
			DailyLossLimit: 0.10,
			EnforcePause:   true,
			TickInterval:   duration{30 * time.Second},
		},
		Monitor: MonitorConfig{
			TickInterval:      duration{2 * time.Second},
			GhostInterval:     duration{5 * time.Minute},
			GhostMinAge:       duration{10 * time.Minute},
			GhostGracePeriod:  duration{60 * time.Second},
			PersistSampleRate: 10,
		},
		Exits: ExitsConfig{
			StopLossPercent:  0.12,
			StopLossEarly:    0.25,
			StopLossEarlyAge: duration{2 * time.Minute},
			StopLossMid:      0.18,
			StopLossMidAge:   duration{10 * time.Minute},
			GracePeriod:      duration{45 * time.Second},

			TakeProfitTrigger:  0.50,
			TrailingPercent:    0.15,
			ScaledExitFraction: 0.20,

			ProtectProfitsMin:     0.25,
			ProtectProfitsRetrace: 0.30,

			FlashCrashTicks:   4,
			FlashCrashPercent: 0.35,
			VolatilityGrace:   duration{90 * time.Second},

			RapidDropWindow:  duration{3 * time.Minute},
			RapidDropPercent: 0.40,

			ExhaustionMinProfit: 1.0,
			ExhaustionNearHigh:  0.05,
			ExhaustionFraction:  0.25,
			ExhaustionCooldown:  duration{5 * time.Minute},

			MaxHoldTime:         duration{4 * time.Hour},
			StalePriceThreshold: duration{2 * time.Minute},
			NoPriceTimeout:      duration{5 * time.Minute},
			YoungPositionGrace:  duration{3 * time.Minute},

			FixedFeeSol: 0.00015,
		},
		Router: RouterConfig{
			MaxRetries:        3,
			BackoffBase:       duration{500 * time.Millisecond},
			VerifyBalance:     true,
			BalanceRetries:    3,
			BalanceRetryDelay: duration{2 * time.Second},
			BalanceTolerance:  0.02,
			ConfirmTimeout:    duration{60 * time.Second},
		},
		Feed: FeedConfig{
			StreamURL:    "",
			HistoryDepth: 50,
			CacheTTL:     duration{10 * time.Minute},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Cron:          "0 3 * * *",
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "trading_paused", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: live trading needs a key source.
	if strings.ToLower(c.Mode) == "live" {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for live mode")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.RPC.Endpoint == "" {
		errs = append(errs, "rpc: endpoint must not be empty")
	}

	if c.Venues.DefaultSlippageBps <= 0 {
		errs = append(errs, "venues: default_slippage_bps must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// Risk pools must partition total capital.
	fracSum := c.Risk.ReserveFraction + c.Risk.ActiveFraction + c.Risk.HighRiskFraction
	if fracSum < 0.999 || fracSum > 1.001 {
		errs = append(errs, fmt.Sprintf("risk: pool fractions must sum to 1.0, got %.3f", fracSum))
	}
	if c.Risk.InitialCapitalSol <= 0 {
		errs = append(errs, "risk: initial_capital_sol must be > 0")
	}
	if c.Risk.MaxPositions < 1 {
		errs = append(errs, "risk: max_positions must be >= 1")
	}
	if c.Risk.MaxPositionFraction <= 0 || c.Risk.MaxPositionFraction > 1 {
		errs = append(errs, "risk: max_position_fraction must be in (0, 1]")
	}
	if c.Risk.MinPositionSol <= 0 {
		errs = append(errs, "risk: min_position_sol must be > 0")
	}

	// Drawdown
	if c.Drawdown.DailyLossLimit <= 0 || c.Drawdown.DailyLossLimit >= 1 {
		errs = append(errs, "drawdown: daily_loss_limit must be in (0, 1)")
	}

	// Monitor
	if c.Monitor.TickInterval.Duration <= 0 {
		errs = append(errs, "monitor: tick_interval must be > 0")
	}
	if c.Monitor.PersistSampleRate < 1 {
		errs = append(errs, "monitor: persist_sample_rate must be >= 1")
	}

	// Exits
	if c.Exits.StopLossPercent <= 0 || c.Exits.StopLossPercent >= 1 {
		errs = append(errs, "exits: stop_loss_percent must be in (0, 1)")
	}
	if c.Exits.TakeProfitTrigger <= 0 {
		errs = append(errs, "exits: take_profit_trigger must be > 0")
	}
	if c.Exits.TrailingPercent <= 0 || c.Exits.TrailingPercent >= 1 {
		errs = append(errs, "exits: trailing_percent must be in (0, 1)")
	}
	if c.Exits.ScaledExitFraction <= 0 || c.Exits.ScaledExitFraction >= 1 {
		errs = append(errs, "exits: scaled_exit_fraction must be in (0, 1)")
	}

	// Router
	if c.Router.MaxRetries < 1 {
		errs = append(errs, "router: max_retries must be >= 1")
	}

	// Jito
	if c.Jito.Enabled {
		if c.Jito.BlockEngine == "" {
			errs = append(errs, "jito: block_engine must not be empty when enabled")
		}
		if c.Jito.TipLamports <= 0 {
			errs = append(errs, "jito: tip_lamports must be > 0 when enabled")
		}
		if c.Jito.MaxPolls < 1 {
			errs = append(errs, "jito: max_polls must be >= 1 when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
