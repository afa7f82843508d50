package domain

import "time"

// PoolState is the live accounting for one capital pool.
type PoolState struct {
	// SizeSol is the pool's share of total capital.
	SizeSol float64
	// InPositionsSol is SOL currently tied up in open positions funded
	// from this pool.
	InPositionsSol float64
	// PendingSol is SOL reserved by in-flight buys that have emitted
	// txPending but not yet txConfirmed/txFailed.
	PendingSol float64
}

// Available returns pool size minus open-position exposure. Pending
// reservations are subtracted separately by the allocator's risk check so
// they can be reported in warnings.
func (p PoolState) Available() float64 {
	avail := p.SizeSol - p.InPositionsSol
	if avail < 0 {
		return 0
	}
	return avail
}

// CapitalAllocation is a snapshot of the partitioned capital. The wallet
// balance is always authoritative; this is derived state, never the source
// of truth.
type CapitalAllocation struct {
	TotalSol float64
	Reserve  PoolState
	Active   PoolState
	HighRisk PoolState
	SyncedAt time.Time
}

// RiskDecision is the structured result of a position-size request. Risk
// violations are never errors; callers branch on Approved.
type RiskDecision struct {
	Approved     bool
	AdjustedSize float64
	Reason       string
	Warnings     []string
}

// DrawdownState is the portfolio circuit-breaker state. It is persisted as a
// typed record so it survives restarts.
type DrawdownState struct {
	CurrentEquity    float64
	PeakEquity       float64
	CurrentDrawdown  float64 // (peak-current)/peak, >= 0
	MaxDrawdown      float64
	DailyPnl         float64
	DailyStartEquity float64
	Day              string // YYYY-MM-DD marker for the daily rollover
	IsPaused         bool
	PauseUntil       time.Time
	PauseReason      string
	UpdatedAt        time.Time
}

// DailyStats is the closing snapshot persisted at each day rollover.
type DailyStats struct {
	Day           string
	StartEquity   float64
	CloseEquity   float64
	Pnl           float64
	MaxDrawdown   float64
	TradingPaused bool
}
