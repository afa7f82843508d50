package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
)

const (
	// maxDrawdownLimit is the fixed trip level for the peak-drawdown breaker.
	maxDrawdownLimit = 0.30

	dailyLossPause   = 24 * time.Hour
	maxDrawdownPause = 48 * time.Hour

	dayLayout = "2006-01-02"
)

// GuardConfig tunes the drawdown circuit breaker.
type GuardConfig struct {
	// DailyLossLimit is the fraction of daily-start equity that trips the
	// daily breaker.
	DailyLossLimit float64
	// EnforcePause gates CanTrade on the pause state. When false the guard
	// tracks and reports but never blocks entries.
	EnforcePause bool
	// InitialCapitalSol seeds the equity baseline when neither persisted
	// state nor a wallet reading is available.
	InitialCapitalSol float64
}

// Guard is the portfolio-level circuit breaker. It recomputes drawdown on
// every equity tick, pauses trading when a breaker trips, and auto-resumes
// when the pause window elapses.
type Guard struct {
	cfg    GuardConfig
	store  domain.DrawdownStore
	bus    *events.Bus
	logger *slog.Logger

	mu sync.Mutex
	st domain.DrawdownState
}

// NewGuard creates a guard with a fresh state baseline.
func NewGuard(cfg GuardConfig, store domain.DrawdownStore, bus *events.Bus, logger *slog.Logger) *Guard {
	return &Guard{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger.With(slog.String("component", "drawdown_guard")),
	}
}

// Restore loads persisted state so peaks and active pauses survive restarts.
// A missing record initializes the baseline from initial capital.
func (g *Guard) Restore(ctx context.Context) error {
	st, err := g.store.Load(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			g.mu.Lock()
			g.st = domain.DrawdownState{
				CurrentEquity:    g.cfg.InitialCapitalSol,
				PeakEquity:       g.cfg.InitialCapitalSol,
				DailyStartEquity: g.cfg.InitialCapitalSol,
				Day:              time.Now().Format(dayLayout),
				UpdatedAt:        time.Now(),
			}
			g.mu.Unlock()
			return nil
		}
		return fmt.Errorf("risk: restore drawdown state: %w", err)
	}

	now := time.Now()
	g.mu.Lock()
	g.st = st
	// A pause that ran out while the process was down resumes immediately
	// instead of waiting for the first equity tick.
	resumed := g.st.IsPaused && now.After(g.st.PauseUntil)
	if resumed {
		g.st.IsPaused = false
		g.st.PauseUntil = time.Time{}
		g.st.PauseReason = ""
	}
	g.mu.Unlock()

	if resumed {
		g.logger.InfoContext(ctx, "risk: persisted trading pause already elapsed, resuming")
		g.bus.Publish(ctx, domain.TradingResumed{At: now})
	}
	return nil
}

// Tick recomputes drawdown from a fresh equity reading: rolls the day over
// at local midnight, maintains the monotonic peak, trips breakers, and
// auto-resumes expired pauses. State is persisted after every tick.
func (g *Guard) Tick(ctx context.Context, equity float64) error {
	now := time.Now()

	g.mu.Lock()
	g.rollover(ctx, now, equity)

	g.st.CurrentEquity = equity
	if equity > g.st.PeakEquity {
		g.st.PeakEquity = equity
	}
	if g.st.PeakEquity > 0 {
		g.st.CurrentDrawdown = (g.st.PeakEquity - equity) / g.st.PeakEquity
	}
	if g.st.CurrentDrawdown > g.st.MaxDrawdown {
		g.st.MaxDrawdown = g.st.CurrentDrawdown
	}
	if g.st.DailyStartEquity > 0 {
		g.st.DailyPnl = equity - g.st.DailyStartEquity
	}
	g.st.UpdatedAt = now

	g.evaluateBreakers(ctx, now)
	st := g.st
	g.mu.Unlock()

	if err := g.store.Save(ctx, st); err != nil {
		return fmt.Errorf("risk: persist drawdown state: %w", err)
	}
	return nil
}

// rollover closes out the previous trading day. Caller holds g.mu.
func (g *Guard) rollover(ctx context.Context, now time.Time, equity float64) {
	day := now.Format(dayLayout)
	if g.st.Day == day {
		return
	}

	if g.st.Day != "" {
		stats := domain.DailyStats{
			Day:           g.st.Day,
			StartEquity:   g.st.DailyStartEquity,
			CloseEquity:   g.st.CurrentEquity,
			Pnl:           g.st.DailyPnl,
			MaxDrawdown:   g.st.MaxDrawdown,
			TradingPaused: g.st.IsPaused,
		}
		if err := g.store.SaveDailyStats(ctx, stats); err != nil {
			g.logger.WarnContext(ctx, "risk: persist daily stats",
				slog.String("day", stats.Day),
				slog.String("error", err.Error()))
		}
	}

	g.st.Day = day
	g.st.DailyStartEquity = equity
	g.st.DailyPnl = 0
}

// evaluateBreakers trips or resumes the pause. Caller holds g.mu.
func (g *Guard) evaluateBreakers(ctx context.Context, now time.Time) {
	if g.st.IsPaused {
		if now.After(g.st.PauseUntil) {
			g.st.IsPaused = false
			g.st.PauseUntil = time.Time{}
			g.st.PauseReason = ""
			g.logger.InfoContext(ctx, "risk: trading pause elapsed, resuming")
			g.bus.Publish(ctx, domain.TradingResumed{At: now})
		}
		return
	}

	if g.st.CurrentDrawdown >= maxDrawdownLimit {
		g.pause(ctx, now, maxDrawdownPause, fmt.Sprintf(
			"max drawdown %.1f%% reached", g.st.CurrentDrawdown*100))
		return
	}

	if g.st.DailyStartEquity > 0 {
		dailyLoss := -g.st.DailyPnl / g.st.DailyStartEquity
		if dailyLoss >= g.cfg.DailyLossLimit {
			g.pause(ctx, now, dailyLossPause, fmt.Sprintf(
				"daily loss %.1f%% reached limit", dailyLoss*100))
		}
	}
}

// pause trips the breaker. Caller holds g.mu.
func (g *Guard) pause(ctx context.Context, now time.Time, window time.Duration, reason string) {
	g.st.IsPaused = true
	g.st.PauseUntil = now.Add(window)
	g.st.PauseReason = reason

	g.logger.WarnContext(ctx, "risk: trading paused",
		slog.String("reason", reason),
		slog.Time("until", g.st.PauseUntil))
	g.bus.Publish(ctx, domain.TradingPaused{
		Reason:     reason,
		PauseUntil: g.st.PauseUntil,
		At:         now,
	})
}

// Resume lifts an active pause immediately (operator action).
func (g *Guard) Resume(ctx context.Context) {
	now := time.Now()

	g.mu.Lock()
	wasPaused := g.st.IsPaused
	g.st.IsPaused = false
	g.st.PauseUntil = time.Time{}
	g.st.PauseReason = ""
	st := g.st
	g.mu.Unlock()

	if !wasPaused {
		return
	}
	if err := g.store.Save(ctx, st); err != nil {
		g.logger.WarnContext(ctx, "risk: persist resume", slog.String("error", err.Error()))
	}
	g.bus.Publish(ctx, domain.TradingResumed{At: now})
}

// CanTrade reports whether new entries are allowed. The pause state is
// always computed and reported; whether it blocks entries is controlled by
// EnforcePause.
func (g *Guard) CanTrade() bool {
	if !g.cfg.EnforcePause {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.st.IsPaused
}

// State returns a snapshot of the breaker state.
func (g *Guard) State() domain.DrawdownState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st
}
