// Package app wires the trader's dependencies and runs the per-mode
// goroutines: the price stream, the entry executor, the position monitor,
// ghost-position sweeps, equity ticks for the drawdown guard, wallet capital
// sync, and scheduled history archival.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/awachter/soltrader/internal/config"
	"github.com/awachter/soltrader/internal/trade"
)

const (
	// instanceLockTTL bounds how long a crashed instance blocks its wallet.
	instanceLockTTL     = 5 * time.Minute
	instanceLockRefresh = 90 * time.Second
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, restores persisted state, starts the mode's
// goroutines, and blocks until the context is cancelled or a worker fails.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	a.logger.InfoContext(ctx, "starting trader",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	trading := mode != "monitor"

	// One trading instance per wallet. Monitor runs are read-only and skip
	// the lock.
	if trading && deps.Wallet != "" {
		lockKey := "trader:" + deps.Wallet
		ok, err := deps.LockManager.Acquire(ctx, lockKey, instanceLockTTL)
		if err != nil {
			return fmt.Errorf("app: instance lock: %w", err)
		}
		if !ok {
			return fmt.Errorf("app: another instance already trades wallet %s", deps.Wallet)
		}
		a.closers = append(a.closers, func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = deps.LockManager.Release(releaseCtx, lockKey)
		})
	}

	// Restore persisted state before any worker starts.
	if err := deps.Guard.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore drawdown state: %w", err)
	}
	if err := deps.Manager.Restore(ctx); err != nil {
		return fmt.Errorf("app: restore positions: %w", err)
	}
	if err := deps.Allocator.SyncWithWallet(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial wallet sync failed, starting from configured capital",
			slog.String("error", err.Error()),
		)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Price stream.
	if a.cfg.Feed.StreamURL != "" {
		g.Go(func() error {
			return deps.Stream.Run(ctx)
		})
	} else {
		a.logger.InfoContext(ctx, "feed: stream_url not set, relying on on-demand price fetches")
	}

	if trading {
		// Entry signals: Redis channel -> queue -> risk-gated opens.
		feeder := trade.NewSignalFeeder(deps.SignalBus, deps.Entries, a.logger)
		g.Go(func() error {
			return feeder.Run(ctx)
		})
		g.Go(func() error {
			return deps.Entries.Run(ctx)
		})

		// Exit-cascade monitoring.
		g.Go(func() error {
			return runEvery(ctx, a.cfg.Monitor.TickInterval.Duration, func(ctx context.Context) {
				deps.Manager.MonitorTick(ctx)
			})
		})

		// Ghost-position reconciliation.
		g.Go(func() error {
			return runEvery(ctx, a.cfg.Monitor.GhostInterval.Duration, func(ctx context.Context) {
				deps.Manager.GhostSweep(ctx)
			})
		})

		// Lock refresh. Losing the lock means another instance may take
		// over the wallet, so treat it as fatal.
		if deps.Wallet != "" {
			lockKey := "trader:" + deps.Wallet
			g.Go(func() error {
				return runEveryErr(ctx, instanceLockRefresh, func(ctx context.Context) error {
					ok, err := deps.LockManager.Refresh(ctx, lockKey, instanceLockTTL)
					if err != nil {
						a.logger.WarnContext(ctx, "lock refresh failed",
							slog.String("error", err.Error()))
						return nil
					}
					if !ok {
						return fmt.Errorf("app: trading lock for wallet %s lost", deps.Wallet)
					}
					return nil
				})
			})
		}
	}

	// Equity ticks drive the drawdown circuit breakers in every mode.
	g.Go(func() error {
		return runEvery(ctx, a.cfg.Drawdown.TickInterval.Duration, func(ctx context.Context) {
			sol, err := deps.RPC.SolBalance(ctx)
			if err != nil {
				a.logger.WarnContext(ctx, "equity tick: wallet balance unavailable",
					slog.String("error", err.Error()))
				return
			}
			equity := sol + deps.Manager.OpenExposureSol()
			if err := deps.Guard.Tick(ctx, equity); err != nil {
				a.logger.WarnContext(ctx, "equity tick failed",
					slog.String("error", err.Error()))
			}
		})
	})

	// Operator notifications drain on their own worker, off the event bus
	// dispatch path.
	g.Go(func() error {
		return deps.Notifier.Run(ctx)
	})

	// Periodic wallet capital sync.
	g.Go(func() error {
		return runEvery(ctx, a.cfg.Risk.WalletSyncInterval.Duration, func(ctx context.Context) {
			if err := deps.Allocator.SyncWithWallet(ctx); err != nil {
				a.logger.WarnContext(ctx, "wallet sync failed",
					slog.String("error", err.Error()))
			}
		})
	})

	// Scheduled history archival.
	if deps.Archiver != nil {
		sched, err := cron.ParseStandard(a.cfg.Archive.Cron)
		if err != nil {
			return fmt.Errorf("app: parse archive cron %q: %w", a.cfg.Archive.Cron, err)
		}
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		g.Go(func() error {
			return runCron(ctx, sched, func(ctx context.Context) {
				before := time.Now().UTC().Add(-retention)
				if err := deps.Archiver.ArchiveAll(ctx, before); err != nil {
					a.logger.ErrorContext(ctx, "archive run failed",
						slog.String("error", err.Error()))
				}
			})
		})
	}

	a.logger.InfoContext(ctx, "trader started",
		slog.String("wallet", deps.Wallet),
		slog.Bool("trading", trading),
		slog.Bool("bundles", deps.Bundler != nil),
	)

	err = g.Wait()
	if err != nil && ctx.Err() != nil && err == ctx.Err() {
		return nil
	}
	return err
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down trader")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// runEvery calls fn on a fixed interval until the context is cancelled.
func runEvery(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	return runEveryErr(ctx, interval, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func runEveryErr(ctx context.Context, interval time.Duration, fn func(context.Context) error) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				return err
			}
		}
	}
}

// runCron calls fn at every firing of the schedule until the context is
// cancelled.
func runCron(ctx context.Context, sched cron.Schedule, fn func(context.Context)) error {
	for {
		next := sched.Next(time.Now().UTC())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
			fn(ctx)
		}
	}
}
