// Package position owns the live position set: opening, the periodic monitor
// tick with its exit cascade, partial and full closes, and ghost
// reconciliation.
package position

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
	"github.com/awachter/soltrader/internal/router"
)

// ManagerConfig carries the lifecycle timers and sampling rate.
type ManagerConfig struct {
	GhostMinAge      time.Duration
	GhostGracePeriod time.Duration
	// PersistSampleRate persists one in N pure price updates per position.
	PersistSampleRate int
}

// CapitalSink receives open/close notifications for exposure accounting.
type CapitalSink interface {
	ReserveCapital(amountSol float64, pool domain.PoolType)
	ReleaseCapital(amountSol float64, pool domain.PoolType)
}

// Manager is the position lifecycle service.
type Manager struct {
	cfg       ManagerConfig
	exits     ExitsConfig
	feed      domain.PriceFeed
	store     domain.PositionStore
	router    *router.Router
	wallet    domain.WalletBalancer
	capital   CapitalSink
	evaluator *Evaluator
	bus       *events.Bus
	audit     domain.AuditStore
	logger    *slog.Logger

	mu        sync.Mutex
	positions map[string]*tracked
}

// NewManager wires the lifecycle service. audit may be nil.
func NewManager(
	cfg ManagerConfig,
	exits ExitsConfig,
	feed domain.PriceFeed,
	store domain.PositionStore,
	rt *router.Router,
	wallet domain.WalletBalancer,
	capital CapitalSink,
	evaluator *Evaluator,
	bus *events.Bus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Manager {
	if cfg.PersistSampleRate <= 0 {
		cfg.PersistSampleRate = 10
	}
	return &Manager{
		cfg:       cfg,
		exits:     exits,
		feed:      feed,
		store:     store,
		router:    rt,
		wallet:    wallet,
		capital:   capital,
		evaluator: evaluator,
		bus:       bus,
		audit:     audit,
		logger:    logger.With(slog.String("component", "position_manager")),
		positions: make(map[string]*tracked),
	}
}

// Restore loads open positions from the store after a restart and
// re-registers them with the price feed.
func (m *Manager) Restore(ctx context.Context) error {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("position: restore: %w", err)
	}

	m.mu.Lock()
	for i := range open {
		pos := open[i]
		// A close interrupted by shutdown resumes as open.
		pos.Status = domain.PositionStatusOpen
		m.positions[pos.ID] = &tracked{pos: &pos, lastPrice: pos.CurrentPrice}
		m.capital.ReserveCapital(pos.AmountSol, pos.Pool)
	}
	count := len(m.positions)
	m.mu.Unlock()

	for _, t := range m.snapshot() {
		if err := m.feed.AddToWatchList(ctx, t.pos.Mint); err != nil {
			m.logger.WarnContext(ctx, "position: re-watch mint",
				slog.String("mint", t.pos.Mint),
				slog.String("error", err.Error()))
		}
	}

	m.logger.InfoContext(ctx, "position: restored open positions", slog.Int("count", count))
	return nil
}

// Open buys into a mint and starts tracking the position. amountSol must
// already be approved by the allocator.
func (m *Manager) Open(ctx context.Context, mint, symbol string, amountSol float64, pool domain.PoolType) (*domain.Position, error) {
	result, err := m.router.ExecuteBuy(ctx, mint, amountSol, router.Options{Pool: pool})
	if err != nil {
		return nil, fmt.Errorf("position: open %s: %w", mint, err)
	}
	if result.OutputAmount <= 0 || result.Price <= 0 {
		return nil, fmt.Errorf("position: open %s: empty fill", mint)
	}

	now := time.Now()
	pos := &domain.Position{
		ID:                uuid.New().String(),
		Mint:              mint,
		Symbol:            symbol,
		EntryPrice:        result.Price,
		CurrentPrice:      result.Price,
		HighestPrice:      result.Price,
		LowestPrice:       result.Price,
		Amount:            result.OutputAmount,
		AmountSol:         result.InputAmount,
		EntryTime:         now,
		LastUpdate:        now,
		StopLoss:          result.Price * (1 - m.exits.StopLossEarly),
		InitialInvestment: result.InputAmount,
		Status:            domain.PositionStatusOpen,
		Pool:              pool,
	}

	m.capital.ReserveCapital(pos.AmountSol, pool)

	if err := m.feed.AddToWatchList(ctx, mint); err != nil {
		m.logger.WarnContext(ctx, "position: watch mint",
			slog.String("mint", mint),
			slog.String("error", err.Error()))
	}
	if err := m.store.Upsert(ctx, *pos); err != nil {
		m.logger.WarnContext(ctx, "position: persist open",
			slog.String("id", pos.ID),
			slog.String("error", err.Error()))
	}

	m.bus.Publish(ctx, domain.PositionOpened{Position: *pos, At: now})
	m.auditLog(ctx, "position_opened", map[string]any{
		"id": pos.ID, "mint": mint, "amount_sol": pos.AmountSol, "price": pos.EntryPrice,
	})

	m.logger.InfoContext(ctx, "position: opened",
		slog.String("mint", mint),
		slog.Float64("amount_sol", pos.AmountSol),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Bool("simulated", result.Simulated))

	// Publish into the live set last, once the record is complete, and hand
	// the caller a copy the monitor goroutine cannot mutate under it.
	m.mu.Lock()
	m.positions[pos.ID] = &tracked{pos: pos, lastPrice: pos.EntryPrice}
	m.mu.Unlock()

	out := *pos
	return &out, nil
}

// MonitorTick walks every open position once: refresh price, update P&L,
// run the exit cascade, apply whatever fired. Positions are evaluated
// sequentially so settlement calls serialize within one tick.
func (m *Manager) MonitorTick(ctx context.Context) {
	now := time.Now()
	for _, t := range m.snapshot() {
		if ctx.Err() != nil {
			return
		}
		m.monitorOne(ctx, t, now)
	}
}

func (m *Manager) monitorOne(ctx context.Context, t *tracked, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.pos
	if p.Status != domain.PositionStatusOpen {
		return
	}

	pt, err := m.feed.GetPrice(ctx, p.Mint)
	if errors.Is(err, domain.ErrNotFound) && !m.router.Graduated(p.Mint) {
		// Nothing cached, but the bonding curve quotes directly.
		if fresh, ferr := m.feed.FetchTokenPrice(ctx, p.Mint); ferr == nil {
			pt, err = fresh, nil
		}
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		// No observation at all. Tolerate startup/indexing lag, then treat
		// the token as dead.
		if p.Age(now) >= m.exits.NoPriceTimeout {
			m.closePosition(ctx, t, domain.CloseReasonDeadToken, "no price data")
		}
		return
	case err != nil:
		m.logger.WarnContext(ctx, "position: price fetch",
			slog.String("mint", p.Mint),
			slog.String("error", err.Error()))
		return
	}

	if now.Sub(pt.Timestamp) > m.exits.StalePriceThreshold {
		if p.Age(now) >= m.exits.YoungPositionGrace {
			m.closePosition(ctx, t, domain.CloseReasonDeadToken, "stale price")
		}
		return
	}

	t.observePrice(pt.PriceSol)
	p.UpdatePrice(pt.PriceSol, now)

	action := m.evaluator.Evaluate(ctx, t, now)
	switch action.kind {
	case actionNone:
		m.persistSampled(ctx, t)
	case actionRatchet:
		p.ArmTrailingStop(p.CurrentPrice, action.trailingPercent)
		m.persist(ctx, p)
	case actionMarkClosed:
		m.finalizeClose(ctx, t, action.reason, p.CurrentPrice, 0)
	case actionPartialClose:
		m.partialClose(ctx, t, action)
	case actionFullClose:
		m.closePosition(ctx, t, action.reason, action.detail)
	}
}

// partialClose sells a slice, books its P&L, and applies the take-profit
// state transitions only after a confirmed fill. Caller holds t.mu.
func (m *Manager) partialClose(ctx context.Context, t *tracked, action exitAction) {
	p := t.pos
	amount := action.sellAmount
	if amount > p.Amount {
		amount = p.Amount
	}
	if amount <= 0 {
		return
	}

	// Tracked amounts are fresher than RPC for rapid partial exits.
	result, err := m.router.ExecuteSell(ctx, p.Mint, amount, router.Options{
		Pool:             p.Pool,
		SkipBalanceCheck: true,
	})
	if err != nil {
		m.logger.WarnContext(ctx, "position: partial close failed",
			slog.String("mint", p.Mint),
			slog.String("detail", action.detail),
			slog.String("error", err.Error()))
		return
	}

	now := time.Now()
	pnl := result.OutputAmount - p.SliceCost(result.InputAmount) - m.exits.FixedFeeSol
	p.Amount -= result.InputAmount
	if p.Amount < 0 {
		p.Amount = 0
	}
	p.RealizedPnl += pnl

	if action.markRecovered {
		p.InitialRecovered = true
	}
	if action.scaledExit {
		p.ScaledExitsTaken++
	}
	if action.exhaustion {
		t.lastExhaustion = now
	}
	if action.trailingPercent > 0 {
		p.ArmTrailingStop(p.CurrentPrice, action.trailingPercent)
	}

	rec := domain.PartialCloseRecord{
		ID:          uuid.New().String(),
		PositionID:  p.ID,
		Mint:        p.Mint,
		SoldAmount:  result.InputAmount,
		SolReceived: result.OutputAmount,
		Price:       result.Price,
		Pnl:         pnl,
		Reason:      action.reason,
		Signature:   result.Signature,
		CreatedAt:   now,
	}
	if err := m.store.InsertPartialClose(ctx, rec); err != nil {
		m.logger.WarnContext(ctx, "position: persist partial close",
			slog.String("id", p.ID),
			slog.String("error", err.Error()))
	}
	m.persist(ctx, p)

	m.bus.Publish(ctx, domain.PartialClose{
		PositionID:  p.ID,
		Mint:        p.Mint,
		SoldAmount:  result.InputAmount,
		SolReceived: result.OutputAmount,
		Pnl:         pnl,
		Reason:      action.reason,
		At:          now,
	})
	m.auditLog(ctx, "partial_close", map[string]any{
		"id": p.ID, "mint": p.Mint, "detail": action.detail,
		"sold": result.InputAmount, "received_sol": result.OutputAmount, "pnl": pnl,
	})

	m.logger.InfoContext(ctx, "position: partial close",
		slog.String("mint", p.Mint),
		slog.String("detail", action.detail),
		slog.Float64("sold", result.InputAmount),
		slog.Float64("received_sol", result.OutputAmount),
		slog.Float64("pnl", pnl))
}

// closePosition sells everything and finalizes. A zero-balance discovery is
// ghost-closed only once the entry is old enough to rule out indexing lag;
// otherwise the attempt is retried on the next tick. Caller holds t.mu.
func (m *Manager) closePosition(ctx context.Context, t *tracked, reason domain.CloseReason, detail string) {
	p := t.pos
	p.Status = domain.PositionStatusClosing

	result, err := m.router.ExecuteSell(ctx, p.Mint, p.Amount, router.Options{Pool: p.Pool})
	if err != nil {
		if errors.Is(err, domain.ErrZeroBalance) {
			if p.Age(time.Now()) > m.cfg.GhostGracePeriod {
				m.ghostClose(ctx, t, "zero balance on close")
				return
			}
			p.Status = domain.PositionStatusOpen
			m.logger.InfoContext(ctx, "position: zero balance within grace period, retrying",
				slog.String("mint", p.Mint))
			return
		}
		// Revert so the next tick retries.
		p.Status = domain.PositionStatusOpen
		m.logger.WarnContext(ctx, "position: close failed",
			slog.String("mint", p.Mint),
			slog.String("reason", string(reason)),
			slog.String("error", err.Error()))
		return
	}

	pnl := result.OutputAmount - p.SliceCost(result.InputAmount) - m.exits.FixedFeeSol
	p.RealizedPnl += pnl
	p.Amount = 0
	m.finalizeClose(ctx, t, reason, result.Price, pnl)

	m.logger.InfoContext(ctx, "position: closed",
		slog.String("mint", p.Mint),
		slog.String("reason", string(reason)),
		slog.String("detail", detail),
		slog.Float64("exit_price", result.Price),
		slog.Float64("realized_pnl", p.RealizedPnl))
}

// finalizeClose removes the position from the live set and persists the
// terminal record. slicePnl is the final slice's contribution, already
// accumulated on the position. Caller holds t.mu, so the status transition
// to closed is atomic against the other close paths.
func (m *Manager) finalizeClose(ctx context.Context, t *tracked, reason domain.CloseReason, exitPrice, slicePnl float64) {
	p := t.pos
	now := time.Now()
	p.Status = domain.PositionStatusClosed

	m.mu.Lock()
	delete(m.positions, p.ID)
	m.mu.Unlock()

	m.capital.ReleaseCapital(p.AmountSol, p.Pool)

	if err := m.store.Upsert(ctx, *p); err != nil {
		m.logger.WarnContext(ctx, "position: persist final state",
			slog.String("id", p.ID), slog.String("error", err.Error()))
	}
	if err := m.store.Close(ctx, p.ID, exitPrice, reason, p.RealizedPnl); err != nil {
		m.logger.WarnContext(ctx, "position: persist close",
			slog.String("id", p.ID), slog.String("error", err.Error()))
	}
	if err := m.feed.RemoveFromWatchList(ctx, p.Mint); err != nil {
		m.logger.WarnContext(ctx, "position: unwatch mint",
			slog.String("mint", p.Mint), slog.String("error", err.Error()))
	}

	m.bus.Publish(ctx, domain.PositionClosed{
		Position:    *p,
		Reason:      reason,
		ExitPrice:   exitPrice,
		RealizedPnl: p.RealizedPnl,
		At:          now,
	})
	m.auditLog(ctx, "position_closed", map[string]any{
		"id": p.ID, "mint": p.Mint, "reason": string(reason),
		"exit_price": exitPrice, "slice_pnl": slicePnl, "realized_pnl": p.RealizedPnl,
	})
}

// CloseManual force-closes one position at the operator's request.
func (m *Manager) CloseManual(ctx context.Context, id string) error {
	m.mu.Lock()
	t, ok := m.positions[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("position: close %s: %w", id, domain.ErrNotFound)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pos.Status != domain.PositionStatusOpen {
		// Another goroutine is already settling it.
		return nil
	}
	m.closePosition(ctx, t, domain.CloseReasonManual, "operator close")
	return nil
}

// Open positions snapshot, for equity computation and inspection.
func (m *Manager) Positions() []domain.Position {
	var out []domain.Position
	for _, t := range m.snapshot() {
		t.mu.Lock()
		out = append(out, *t.pos)
		t.mu.Unlock()
	}
	return out
}

// OpenExposureSol sums the current SOL value of all open positions.
func (m *Manager) OpenExposureSol() float64 {
	var total float64
	for _, t := range m.snapshot() {
		t.mu.Lock()
		total += t.pos.UnrealizedSol()
		t.mu.Unlock()
	}
	return total
}

func (m *Manager) snapshot() []*tracked {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*tracked, 0, len(m.positions))
	for _, t := range m.positions {
		out = append(out, t)
	}
	return out
}

func (m *Manager) persist(ctx context.Context, p *domain.Position) {
	if err := m.store.Upsert(ctx, *p); err != nil {
		m.logger.WarnContext(ctx, "position: persist",
			slog.String("id", p.ID),
			slog.String("error", err.Error()))
	}
}

// persistSampled bounds write volume on pure price updates by persisting one
// in N per position.
func (m *Manager) persistSampled(ctx context.Context, t *tracked) {
	t.priceUpdates++
	if t.priceUpdates%m.cfg.PersistSampleRate != 0 {
		return
	}
	m.persist(ctx, t.pos)
}

func (m *Manager) auditLog(ctx context.Context, event string, detail map[string]any) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Log(ctx, event, detail); err != nil {
		m.logger.WarnContext(ctx, "position: audit log",
			slog.String("event", event),
			slog.String("error", err.Error()))
	}
}
