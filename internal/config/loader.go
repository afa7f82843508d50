package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SOLTRADER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SOLTRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SOLTRADER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.PublicKey, "SOLTRADER_WALLET_PUBLIC_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SOLTRADER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SOLTRADER_WALLET_KEY_PASSWORD")

	// ── RPC ──
	setStr(&cfg.RPC.Endpoint, "SOLTRADER_RPC_ENDPOINT")
	setStr(&cfg.RPC.Commitment, "SOLTRADER_RPC_COMMITMENT")
	setDuration(&cfg.RPC.RequestTimeout, "SOLTRADER_RPC_REQUEST_TIMEOUT")

	// ── Venues ──
	setStr(&cfg.Venues.JupiterHost, "SOLTRADER_VENUES_JUPITER_HOST")
	setStr(&cfg.Venues.PumpHost, "SOLTRADER_VENUES_PUMP_HOST")
	setInt(&cfg.Venues.DefaultSlippageBps, "SOLTRADER_VENUES_DEFAULT_SLIPPAGE_BPS")
	setFloat64(&cfg.Venues.PriorityFeeSol, "SOLTRADER_VENUES_PRIORITY_FEE_SOL")
	setBool(&cfg.Venues.PaperTrading, "SOLTRADER_VENUES_PAPER_TRADING")
	setInt(&cfg.Venues.PaperSlippageBps, "SOLTRADER_VENUES_PAPER_SLIPPAGE_BPS")

	// ── Jito ──
	setBool(&cfg.Jito.Enabled, "SOLTRADER_JITO_ENABLED")
	setStr(&cfg.Jito.BlockEngine, "SOLTRADER_JITO_BLOCK_ENGINE")
	setInt64(&cfg.Jito.TipLamports, "SOLTRADER_JITO_TIP_LAMPORTS")
	setDuration(&cfg.Jito.PollInterval, "SOLTRADER_JITO_POLL_INTERVAL")
	setInt(&cfg.Jito.MaxPolls, "SOLTRADER_JITO_MAX_POLLS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SOLTRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SOLTRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SOLTRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SOLTRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SOLTRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SOLTRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SOLTRADER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SOLTRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SOLTRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SOLTRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SOLTRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SOLTRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SOLTRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SOLTRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SOLTRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SOLTRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SOLTRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SOLTRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "SOLTRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SOLTRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SOLTRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "SOLTRADER_S3_FORCE_PATH_STYLE")

	// ── Risk ──
	setFloat64(&cfg.Risk.InitialCapitalSol, "SOLTRADER_RISK_INITIAL_CAPITAL_SOL")
	setFloat64(&cfg.Risk.ReserveFraction, "SOLTRADER_RISK_RESERVE_FRACTION")
	setFloat64(&cfg.Risk.ActiveFraction, "SOLTRADER_RISK_ACTIVE_FRACTION")
	setFloat64(&cfg.Risk.HighRiskFraction, "SOLTRADER_RISK_HIGH_RISK_FRACTION")
	setInt(&cfg.Risk.MaxPositions, "SOLTRADER_RISK_MAX_POSITIONS")
	setFloat64(&cfg.Risk.MaxPositionFraction, "SOLTRADER_RISK_MAX_POSITION_FRACTION")
	setFloat64(&cfg.Risk.MinPositionSol, "SOLTRADER_RISK_MIN_POSITION_SOL")

	// ── Drawdown ──
	setFloat64(&cfg.Drawdown.DailyLossLimit, "SOLTRADER_DRAWDOWN_DAILY_LOSS_LIMIT")
	setBool(&cfg.Drawdown.EnforcePause, "SOLTRADER_DRAWDOWN_ENFORCE_PAUSE")

	// ── Monitor ──
	setDuration(&cfg.Monitor.TickInterval, "SOLTRADER_MONITOR_TICK_INTERVAL")
	setDuration(&cfg.Monitor.GhostInterval, "SOLTRADER_MONITOR_GHOST_INTERVAL")
	setInt(&cfg.Monitor.PersistSampleRate, "SOLTRADER_MONITOR_PERSIST_SAMPLE_RATE")

	// ── Exits ──
	setFloat64(&cfg.Exits.StopLossPercent, "SOLTRADER_EXITS_STOP_LOSS_PERCENT")
	setFloat64(&cfg.Exits.TakeProfitTrigger, "SOLTRADER_EXITS_TAKE_PROFIT_TRIGGER")
	setFloat64(&cfg.Exits.TrailingPercent, "SOLTRADER_EXITS_TRAILING_PERCENT")
	setFloat64(&cfg.Exits.ScaledExitFraction, "SOLTRADER_EXITS_SCALED_EXIT_FRACTION")
	setDuration(&cfg.Exits.MaxHoldTime, "SOLTRADER_EXITS_MAX_HOLD_TIME")

	// ── Router ──
	setInt(&cfg.Router.MaxRetries, "SOLTRADER_ROUTER_MAX_RETRIES")
	setBool(&cfg.Router.VerifyBalance, "SOLTRADER_ROUTER_VERIFY_BALANCE")

	// ── Feed ──
	setStr(&cfg.Feed.StreamURL, "SOLTRADER_FEED_STREAM_URL")
	setInt(&cfg.Feed.HistoryDepth, "SOLTRADER_FEED_HISTORY_DEPTH")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SOLTRADER_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "SOLTRADER_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "SOLTRADER_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SOLTRADER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SOLTRADER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SOLTRADER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SOLTRADER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SOLTRADER_MODE")
	setStr(&cfg.LogLevel, "SOLTRADER_LOG_LEVEL")
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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
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

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
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
