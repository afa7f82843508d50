package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/awachter/soltrader/internal/blob/s3"
	"github.com/awachter/soltrader/internal/bundle"
	"github.com/awachter/soltrader/internal/cache/redis"
	"github.com/awachter/soltrader/internal/config"
	"github.com/awachter/soltrader/internal/crypto"
	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
	"github.com/awachter/soltrader/internal/feed"
	"github.com/awachter/soltrader/internal/notify"
	"github.com/awachter/soltrader/internal/platform/jito"
	"github.com/awachter/soltrader/internal/platform/jupiter"
	"github.com/awachter/soltrader/internal/platform/pumpfun"
	"github.com/awachter/soltrader/internal/platform/rpc"
	"github.com/awachter/soltrader/internal/position"
	"github.com/awachter/soltrader/internal/risk"
	"github.com/awachter/soltrader/internal/router"
	"github.com/awachter/soltrader/internal/store/postgres"
	"github.com/awachter/soltrader/internal/trade"
	"github.com/awachter/soltrader/internal/venue/aggregator"
	"github.com/awachter/soltrader/internal/venue/curve"
)

// Dependencies bundles every component the application needs to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	DrawdownStore domain.DrawdownStore
	AuditStore    domain.AuditStore

	// Cache and messaging
	PriceCache  *redis.PriceCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	Bus         *events.Bus

	// Chain access. Signer is nil when no key material is configured
	// (paper and monitor runs without a wallet key).
	RPC    *rpc.Client
	Signer *crypto.Signer
	Wallet string

	// Market data
	Stream   *feed.Stream
	Feed     *feed.Feed
	Momentum domain.MomentumSource

	// Execution and risk
	Router    *router.Router
	Bundler   *bundle.Submitter
	Allocator *risk.Allocator
	Guard     *risk.Guard
	Manager   *position.Manager
	Entries   *trade.Executor

	// Archival and notifications. Archiver is nil unless archiving is
	// enabled in the configuration.
	Archiver *s3blob.Archiver
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that must
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.PositionStore = postgres.NewPositionStore(pgClient)
	deps.DrawdownStore = postgres.NewDrawdownStore(pgClient)
	deps.AuditStore = postgres.NewAuditStore(pgClient)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Feed.HistoryDepth)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// In-process event bus, mirrored to Redis streams for observers.
	deps.Bus = events.NewBus(deps.SignalBus, logger)

	// --- Wallet key and signer ---
	deps.Wallet = cfg.Wallet.PublicKey
	if cfg.Wallet.PrivateKey != "" || cfg.Wallet.EncryptedKeyPath != "" {
		priv, err := crypto.LoadKeypair(crypto.KeyConfig{
			RawKeypair:       cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err := crypto.NewSigner(priv)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
		deps.Signer = signer
		deps.Wallet = signer.PublicKey()
	}

	// --- Solana RPC ---
	deps.RPC = rpc.NewClient(cfg.RPC.Endpoint, deps.Wallet)

	// --- Market data ---
	pumpClient := pumpfun.NewClient(cfg.Venues.PumpHost)
	deps.Stream = feed.NewStream(cfg.Feed.StreamURL, deps.PriceCache, logger)
	deps.Feed = feed.New(deps.PriceCache, deps.Stream, pumpClient)
	deps.Momentum = feed.NewMomentum(deps.Feed, cfg.Feed.HistoryDepth, logger)

	// --- Jito bundles (optional) ---
	if cfg.Jito.Enabled && deps.Signer != nil {
		deps.Bundler = bundle.NewSubmitter(
			jito.NewClient(cfg.Jito.BlockEngine),
			deps.RPC,
			deps.Signer,
			bundle.Config{
				TipLamports:  uint64(cfg.Jito.TipLamports),
				PollInterval: cfg.Jito.PollInterval.Duration,
				MaxPolls:     cfg.Jito.MaxPolls,
			},
			logger,
		)
	}

	// --- Swap venues and router ---
	// Without a signer live fills are impossible, so paper fills are forced.
	paper := cfg.Venues.PaperTrading || deps.Signer == nil || strings.ToLower(cfg.Mode) != "live"

	curveExec := curve.New(pumpClient, deps.RPC, deps.Signer, curve.Config{
		DefaultSlippageBps: cfg.Venues.DefaultSlippageBps,
		PriorityFeeSol:     cfg.Venues.PriorityFeeSol,
		ConfirmTimeout:     cfg.Router.ConfirmTimeout.Duration,
		PaperTrading:       paper,
		PaperSlippageBps:   cfg.Venues.PaperSlippageBps,
	}, logger)

	aggExec := aggregator.New(jupiter.NewClient(cfg.Venues.JupiterHost), deps.RPC, deps.Signer, aggregator.Config{
		DefaultSlippageBps: cfg.Venues.DefaultSlippageBps,
		PriorityFeeSol:     cfg.Venues.PriorityFeeSol,
		ConfirmTimeout:     cfg.Router.ConfirmTimeout.Duration,
		PaperTrading:       paper,
		PaperSlippageBps:   cfg.Venues.PaperSlippageBps,
	}, logger)

	if deps.Bundler != nil && !paper {
		curveExec.UseSender(deps.Bundler)
		aggExec.UseSender(deps.Bundler)
	}

	deps.Router = router.New(curveExec, aggExec, deps.RPC, deps.Bus, router.Config{
		MaxRetries:        cfg.Router.MaxRetries,
		BackoffBase:       cfg.Router.BackoffBase.Duration,
		VerifyBalance:     cfg.Router.VerifyBalance,
		BalanceRetries:    cfg.Router.BalanceRetries,
		BalanceRetryDelay: cfg.Router.BalanceRetryDelay.Duration,
		BalanceTolerance:  cfg.Router.BalanceTolerance,
	}, logger)

	// --- Risk ---
	deps.Allocator = risk.NewAllocator(risk.AllocatorConfig{
		InitialCapitalSol:   cfg.Risk.InitialCapitalSol,
		ReserveFraction:     cfg.Risk.ReserveFraction,
		ActiveFraction:      cfg.Risk.ActiveFraction,
		HighRiskFraction:    cfg.Risk.HighRiskFraction,
		MaxPositions:        cfg.Risk.MaxPositions,
		MaxPositionFraction: cfg.Risk.MaxPositionFraction,
		MinPositionSol:      cfg.Risk.MinPositionSol,
	}, deps.RPC, deps.Bus, logger)

	deps.Guard = risk.NewGuard(risk.GuardConfig{
		DailyLossLimit:    cfg.Drawdown.DailyLossLimit,
		EnforcePause:      cfg.Drawdown.EnforcePause,
		InitialCapitalSol: cfg.Risk.InitialCapitalSol,
	}, deps.DrawdownStore, deps.Bus, logger)

	// --- Position lifecycle ---
	evaluator := position.NewEvaluator(exitsConfig(cfg), deps.Momentum, logger)
	deps.Manager = position.NewManager(
		position.ManagerConfig{
			GhostMinAge:       cfg.Monitor.GhostMinAge.Duration,
			GhostGracePeriod:  cfg.Monitor.GhostGracePeriod.Duration,
			PersistSampleRate: cfg.Monitor.PersistSampleRate,
		},
		exitsConfig(cfg),
		deps.Feed,
		deps.PositionStore,
		deps.Router,
		deps.RPC,
		deps.Allocator,
		evaluator,
		deps.Bus,
		deps.AuditStore,
		logger,
	)

	deps.Entries = trade.NewExecutor(deps.Guard, deps.Allocator, deps.Manager, logger)

	// --- Archival (optional) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         strings.HasPrefix(cfg.S3.Endpoint, "https://"),
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), deps.PositionStore, deps.AuditStore)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	notify.BindEvents(deps.Notifier, deps.Bus)

	return deps, cleanup, nil
}

// exitsConfig translates the TOML exit tunables into the evaluator's config.
func exitsConfig(cfg *config.Config) position.ExitsConfig {
	e := cfg.Exits
	return position.ExitsConfig{
		StopLossPercent:  e.StopLossPercent,
		StopLossEarly:    e.StopLossEarly,
		StopLossEarlyAge: e.StopLossEarlyAge.Duration,
		StopLossMid:      e.StopLossMid,
		StopLossMidAge:   e.StopLossMidAge.Duration,
		GracePeriod:      e.GracePeriod.Duration,

		TakeProfitTrigger:  e.TakeProfitTrigger,
		TrailingPercent:    e.TrailingPercent,
		ScaledExitFraction: e.ScaledExitFraction,

		ProtectProfitsMin:     e.ProtectProfitsMin,
		ProtectProfitsRetrace: e.ProtectProfitsRetrace,

		FlashCrashTicks:   e.FlashCrashTicks,
		FlashCrashPercent: e.FlashCrashPercent,
		VolatilityGrace:   e.VolatilityGrace.Duration,

		RapidDropWindow:  e.RapidDropWindow.Duration,
		RapidDropPercent: e.RapidDropPercent,

		ExhaustionMinProfit: e.ExhaustionMinProfit,
		ExhaustionNearHigh:  e.ExhaustionNearHigh,
		ExhaustionFraction:  e.ExhaustionFraction,
		ExhaustionCooldown:  e.ExhaustionCooldown.Duration,

		MaxHoldTime:         e.MaxHoldTime.Duration,
		StalePriceThreshold: e.StalePriceThreshold.Duration,
		NoPriceTimeout:      e.NoPriceTimeout.Duration,
		YoungPositionGrace:  e.YoungPositionGrace.Duration,

		FixedFeeSol: e.FixedFeeSol,
	}
}
