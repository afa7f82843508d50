package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/awachter/soltrader/internal/domain"
)

// Momentum grades a mint's short-term momentum from its cached price history.
// It is the default domain.MomentumSource when no external signal provider is
// configured.
type Momentum struct {
	feed   domain.PriceFeed
	window int
	logger *slog.Logger
}

var _ domain.MomentumSource = (*Momentum)(nil)

// NewMomentum creates a history-backed momentum source. window is the number
// of recent observations consulted per grading.
func NewMomentum(f domain.PriceFeed, window int, logger *slog.Logger) *Momentum {
	if window <= 0 {
		window = 12
	}
	return &Momentum{
		feed:   f,
		window: window,
		logger: logger.With(slog.String("component", "momentum")),
	}
}

// MomentumStrength grades the mint from net price change and up-tick ratio
// over the observation window. Too little history grades medium, which keeps
// the momentum-adaptive exits on their static thresholds.
func (m *Momentum) MomentumStrength(ctx context.Context, mint string) (domain.MomentumSignal, error) {
	hist, err := m.feed.GetPriceHistory(ctx, mint, m.window)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MomentumSignal{Strength: domain.MomentumMedium, Reason: "no history"}, nil
		}
		return domain.MomentumSignal{}, fmt.Errorf("feed: momentum history for %s: %w", mint, err)
	}
	if len(hist) < 3 {
		return domain.MomentumSignal{Strength: domain.MomentumMedium, Reason: "insufficient history"}, nil
	}

	// History is newest first.
	newest := hist[0].PriceSol
	oldest := hist[len(hist)-1].PriceSol
	if oldest <= 0 {
		return domain.MomentumSignal{Strength: domain.MomentumMedium, Reason: "degenerate history"}, nil
	}
	change := (newest - oldest) / oldest

	upticks := 0
	for i := len(hist) - 1; i > 0; i-- {
		if hist[i-1].PriceSol > hist[i].PriceSol {
			upticks++
		}
	}
	ratio := float64(upticks) / float64(len(hist)-1)

	sig := domain.MomentumSignal{
		Strength: domain.MomentumMedium,
		Reason:   fmt.Sprintf("change=%.3f upticks=%.2f", change, ratio),
	}
	switch {
	case change >= 0.05 && ratio >= 0.6:
		sig.Strength = domain.MomentumStrong
	case change <= -0.03 || ratio <= 0.35:
		sig.Strength = domain.MomentumWeak
	}
	return sig, nil
}

// ShouldExitNow flags a stalled winner: momentum has gone weak, the price is
// well off its local high after a run of down ticks, and the remaining profit
// is too thin to justify riding it down further.
func (m *Momentum) ShouldExitNow(ctx context.Context, metrics domain.ExitMetrics, profitPercent float64) (bool, error) {
	sig, err := m.MomentumStrength(ctx, metrics.Mint)
	if err != nil {
		return false, err
	}
	if sig.Strength != domain.MomentumWeak {
		return false, nil
	}
	exit := metrics.PriceTicksDown >= 3 &&
		metrics.DistanceFromHigh >= 0.10 &&
		profitPercent > 0 && profitPercent < 0.25 &&
		metrics.SecondsSinceEntry > 300
	if exit {
		m.logger.InfoContext(ctx, "momentum exit signal",
			slog.String("mint", metrics.Mint),
			slog.String("reason", sig.Reason),
			slog.Float64("profit_percent", profitPercent),
		)
	}
	return exit, nil
}
