package domain

import (
	"math"
	"time"
)

// PositionStatus tracks where a position is in its lifecycle.
type PositionStatus string

const (
	PositionStatusOpen    PositionStatus = "open"
	PositionStatusClosing PositionStatus = "closing"
	PositionStatusClosed  PositionStatus = "closed"
)

// PoolType identifies which capital pool funded a position.
type PoolType string

const (
	PoolActive   PoolType = "active"
	PoolHighRisk PoolType = "high_risk"
)

// CloseReason records why a position (or a slice of it) was closed.
type CloseReason string

const (
	CloseReasonStopLoss      CloseReason = "stop_loss"
	CloseReasonTrailingStop  CloseReason = "trailing_stop"
	CloseReasonTakeProfit    CloseReason = "take_profit"
	CloseReasonManual        CloseReason = "manual"
	CloseReasonAISignal      CloseReason = "ai_signal"
	CloseReasonRugDetected   CloseReason = "rug_detected"
	CloseReasonDeadToken     CloseReason = "dead_token"
	CloseReasonGhostPosition CloseReason = "ghost_position"
)

// TakeProfitLevel is a historical take-profit ladder entry. It is kept on the
// persisted record as JSON for compatibility with older position history rows.
type TakeProfitLevel struct {
	Percent float64 `json:"percent"`
	Sell    float64 `json:"sell"`
	Hit     bool    `json:"hit"`
}

// Position is one open or historical trade on a token mint.
//
// AmountSol and InitialInvestment are set at open and never mutate afterwards.
// RealizedPnl only grows through confirmed partial/full closes, and
// ScaledExitsTaken only increments on a successful sell.
type Position struct {
	ID                string
	Mint              string
	Symbol            string
	EntryPrice        float64
	CurrentPrice      float64
	HighestPrice      float64
	LowestPrice       float64
	Amount            float64 // token units still held
	AmountSol         float64 // SOL invested at entry, immutable
	EntryTime         time.Time
	LastUpdate        time.Time
	StopLoss          float64
	TrailingStop      float64 // 0 means not armed
	InitialRecovered  bool
	ScaledExitsTaken  int
	InitialInvestment float64 // immutable copy of AmountSol
	RealizedPnl       float64 // accumulated SOL from partial closes
	Status            PositionStatus
	Pool              PoolType
	TakeProfitLevels  []TakeProfitLevel
}

// UpdatePrice records a new observed price, maintaining the highest/lowest
// watermarks and the last-update timestamp.
func (p *Position) UpdatePrice(price float64, ts time.Time) {
	p.CurrentPrice = price
	if price > p.HighestPrice {
		p.HighestPrice = price
	}
	if p.LowestPrice == 0 || price < p.LowestPrice {
		p.LowestPrice = price
	}
	p.LastUpdate = ts
}

// ProfitPercent returns the unrealized gain as a fraction of the entry price
// (0.5 means +50%). It is NaN/Inf when the entry price is corrupted; callers
// must guard with ValidProfitPercent.
func (p *Position) ProfitPercent() float64 {
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// ValidProfitPercent reports whether ProfitPercent is a usable number.
func (p *Position) ValidProfitPercent() bool {
	pp := p.ProfitPercent()
	return !math.IsNaN(pp) && !math.IsInf(pp, 0)
}

// UnrealizedSol returns the current SOL value of the remaining tokens.
func (p *Position) UnrealizedSol() float64 {
	return p.Amount * p.CurrentPrice
}

// UnrealizedPnl is the unrealized profit in SOL against the proportional
// share of the initial investment still held.
func (p *Position) UnrealizedPnl() float64 {
	return p.UnrealizedSol() - p.remainingCost()
}

// remainingCost is the share of the entry cost attributable to the tokens
// still held.
func (p *Position) remainingCost() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	entryTokens := p.AmountSol / p.EntryPrice
	if entryTokens <= 0 {
		return 0
	}
	return p.AmountSol * (p.Amount / entryTokens)
}

// SliceCost returns the proportional entry cost of selling amount tokens.
func (p *Position) SliceCost(amount float64) float64 {
	if p.EntryPrice <= 0 || p.AmountSol <= 0 {
		return 0
	}
	entryTokens := p.AmountSol / p.EntryPrice
	if entryTokens <= 0 {
		return 0
	}
	return p.AmountSol * (amount / entryTokens)
}

// Age returns how long the position has been open relative to now.
func (p *Position) Age(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// ArmTrailingStop raises the trailing stop to price*(1-trailingPercent) if
// that is higher than the current stop. The trailing stop never loosens.
func (p *Position) ArmTrailingStop(price, trailingPercent float64) {
	stop := price * (1 - trailingPercent)
	if stop > p.TrailingStop {
		p.TrailingStop = stop
	}
}

// PartialCloseRecord is the persisted row for one partial exit.
type PartialCloseRecord struct {
	ID          string
	PositionID  string
	Mint        string
	SoldAmount  float64
	SolReceived float64
	Price       float64
	Pnl         float64
	Reason      CloseReason
	Signature   string
	CreatedAt   time.Time
}
