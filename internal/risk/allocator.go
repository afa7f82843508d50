// Package risk implements admission control over capital (the allocator)
// and the portfolio circuit breaker (the drawdown guard).
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
)

// AllocatorConfig sizes the capital pools and bounds position sizing.
type AllocatorConfig struct {
	InitialCapitalSol   float64
	ReserveFraction     float64
	ActiveFraction      float64
	HighRiskFraction    float64
	MaxPositions        int
	MaxPositionFraction float64
	MinPositionSol      float64
}

// Allocator partitions total capital into reserve/active/high-risk pools and
// gates every position-size request. Reservation counters are driven by the
// router's transaction lifecycle events, applied in emission order.
type Allocator struct {
	cfg    AllocatorConfig
	wallet domain.WalletBalancer
	logger *slog.Logger

	mu         sync.Mutex
	alloc      domain.CapitalAllocation
	openCount  int
	pendingTxs map[string]domain.TxPending
}

// NewAllocator creates an allocator seeded from the configured initial
// capital and subscribes it to transaction lifecycle events.
func NewAllocator(cfg AllocatorConfig, wallet domain.WalletBalancer, bus *events.Bus, logger *slog.Logger) *Allocator {
	a := &Allocator{
		cfg:        cfg,
		wallet:     wallet,
		logger:     logger.With(slog.String("component", "allocator")),
		pendingTxs: make(map[string]domain.TxPending),
	}
	a.repartition(cfg.InitialCapitalSol)
	bus.Subscribe(a.handleEvent)
	return a
}

// repartition resets pool sizes from a new total. Caller must hold a.mu or
// be the constructor.
func (a *Allocator) repartition(total float64) {
	a.alloc.TotalSol = total
	a.alloc.Reserve.SizeSol = total * a.cfg.ReserveFraction
	a.alloc.Active.SizeSol = total * a.cfg.ActiveFraction
	a.alloc.HighRisk.SizeSol = total * a.cfg.HighRiskFraction
	a.alloc.SyncedAt = time.Now()
}

func (a *Allocator) pool(pt domain.PoolType) *domain.PoolState {
	if pt == domain.PoolHighRisk {
		return &a.alloc.HighRisk
	}
	return &a.alloc.Active
}

// CheckRisk runs the admission checks in order. Shrinking adjustments
// accumulate warnings; only hard floors reject.
func (a *Allocator) CheckRisk(requested float64, pt domain.PoolType) domain.RiskDecision {
	a.mu.Lock()
	defer a.mu.Unlock()

	var warnings []string

	if a.openCount >= a.cfg.MaxPositions {
		return domain.RiskDecision{
			Reason: fmt.Sprintf("max concurrent positions reached (%d)", a.cfg.MaxPositions),
		}
	}

	pool := a.pool(pt)
	size := requested

	effectiveAvailable := pool.Available() - pool.PendingSol
	if effectiveAvailable < 0 {
		effectiveAvailable = 0
	}
	if size > effectiveAvailable {
		warnings = append(warnings, fmt.Sprintf(
			"requested %.4f exceeds pool availability %.4f, shrunk", size, effectiveAvailable))
		size = effectiveAvailable
	}

	maxSize := a.alloc.TotalSol * a.cfg.MaxPositionFraction
	if size > maxSize {
		warnings = append(warnings, fmt.Sprintf(
			"size capped at max position fraction (%.4f)", maxSize))
		size = maxSize
	}

	if size < a.cfg.MinPositionSol {
		return domain.RiskDecision{
			Reason:   fmt.Sprintf("adjusted size %.4f below minimum %.4f", size, a.cfg.MinPositionSol),
			Warnings: warnings,
		}
	}

	tradable := a.alloc.TotalSol - a.alloc.Reserve.SizeSol
	exposure := a.alloc.Active.InPositionsSol + a.alloc.Active.PendingSol +
		a.alloc.HighRisk.InPositionsSol + a.alloc.HighRisk.PendingSol
	headroom := tradable - exposure
	if size > headroom {
		if headroom < a.cfg.MinPositionSol {
			return domain.RiskDecision{
				Reason:   fmt.Sprintf("total exposure headroom %.4f below minimum", headroom),
				Warnings: warnings,
			}
		}
		warnings = append(warnings, fmt.Sprintf(
			"size shrunk to total exposure headroom %.4f", headroom))
		size = headroom
	}

	return domain.RiskDecision{
		Approved:     true,
		AdjustedSize: size,
		Warnings:     warnings,
	}
}

// ReserveCapital commits an approved size to a pool when a position opens.
func (a *Allocator) ReserveCapital(amountSol float64, pt domain.PoolType) {
	a.mu.Lock()
	a.pool(pt).InPositionsSol += amountSol
	a.openCount++
	a.mu.Unlock()
}

// ReleaseCapital returns a closed position's entry size to its pool.
func (a *Allocator) ReleaseCapital(amountSol float64, pt domain.PoolType) {
	a.mu.Lock()
	pool := a.pool(pt)
	pool.InPositionsSol -= amountSol
	if pool.InPositionsSol < 0 {
		pool.InPositionsSol = 0
	}
	if a.openCount > 0 {
		a.openCount--
	}
	a.mu.Unlock()
}

// handleEvent applies transaction lifecycle events to the pending
// reservation counters. The bus dispatches synchronously under one lock, so
// events arrive in emission order.
func (a *Allocator) handleEvent(evt domain.Event) {
	switch e := evt.(type) {
	case domain.TxPending:
		if e.Type != domain.TxTypeBuy || e.AmountSol <= 0 {
			return
		}
		a.mu.Lock()
		a.pendingTxs[e.TxID] = e
		a.pool(e.Pool).PendingSol += e.AmountSol
		a.mu.Unlock()
	case domain.TxConfirmed:
		a.releasePending(e.TxID, e.Pool)
	case domain.TxFailed:
		a.releasePending(e.TxID, e.Pool)
	}
}

func (a *Allocator) releasePending(txID string, pt domain.PoolType) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, ok := a.pendingTxs[txID]
	if !ok {
		return
	}
	delete(a.pendingTxs, txID)

	pool := a.pool(pt)
	pool.PendingSol -= pending.AmountSol
	if pool.PendingSol < 0 {
		pool.PendingSol = 0
	}
}

// SyncWithWallet re-reads the on-chain SOL balance and repartitions the
// pools around it, preserving open-position exposure. The wallet is always
// authoritative over internally computed totals.
func (a *Allocator) SyncWithWallet(ctx context.Context) error {
	balance, err := a.wallet.SolBalance(ctx)
	if err != nil {
		return fmt.Errorf("risk: wallet sync: %w", err)
	}

	a.mu.Lock()
	inPositions := a.alloc.Active.InPositionsSol + a.alloc.HighRisk.InPositionsSol
	total := balance + inPositions
	a.repartition(total)
	a.mu.Unlock()

	a.logger.InfoContext(ctx, "risk: synced capital with wallet",
		slog.Float64("wallet_sol", balance),
		slog.Float64("in_positions_sol", inPositions),
		slog.Float64("total_sol", total))
	return nil
}

// Allocation returns a snapshot of the current partitioning.
func (a *Allocator) Allocation() domain.CapitalAllocation {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc
}

// OpenPositions returns the count the max-positions check gates on.
func (a *Allocator) OpenPositions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openCount
}
