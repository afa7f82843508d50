package position

import (
	"context"
	"log/slog"
	"time"

	"github.com/awachter/soltrader/internal/domain"
)

// GhostSweep checks on-chain balances for positions older than the minimum
// age and force-closes any whose balance is zero: the tokens are already
// gone, so there is nothing to sell and the remaining cost is a total loss.
// It runs on its own cadence, independent of the monitor tick.
func (m *Manager) GhostSweep(ctx context.Context) {
	now := time.Now()
	for _, t := range m.snapshot() {
		if ctx.Err() != nil {
			return
		}
		m.sweepOne(ctx, t, now)
	}
}

// sweepOne checks and, if drained, finalizes a single position. The status
// re-check under t.mu keeps the sweep from racing a monitor-tick close into
// a double finalization.
func (m *Manager) sweepOne(ctx context.Context, t *tracked, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.pos
	if p.Status != domain.PositionStatusOpen || p.Age(now) < m.cfg.GhostMinAge {
		return
	}

	balance, err := m.wallet.TokenBalance(ctx, p.Mint)
	if err != nil {
		m.logger.WarnContext(ctx, "position: ghost sweep balance check",
			slog.String("mint", p.Mint),
			slog.String("error", err.Error()))
		return
	}
	if balance > 0 {
		return
	}

	m.ghostClose(ctx, t, "ghost sweep found zero balance")
}

// ghostClose finalizes a position whose tokens are gone without attempting a
// sell. The remaining holding is written off entirely. Caller holds t.mu.
func (m *Manager) ghostClose(ctx context.Context, t *tracked, detail string) {
	p := t.pos
	loss := p.SliceCost(p.Amount) + m.exits.FixedFeeSol
	p.RealizedPnl -= loss
	p.Amount = 0

	m.logger.WarnContext(ctx, "position: ghost close",
		slog.String("mint", p.Mint),
		slog.String("detail", detail),
		slog.Float64("written_off_sol", loss))

	m.finalizeClose(ctx, t, domain.CloseReasonGhostPosition, 0, -loss)
}
