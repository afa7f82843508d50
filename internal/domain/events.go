package domain

import "time"

// Event is implemented by every typed event published on the bus. Name is
// the wire identifier used when mirroring events onto the Redis stream.
type Event interface {
	Name() string
}

// PositionOpened is published after a position is created and registered
// with the price feed.
type PositionOpened struct {
	Position Position
	At       time.Time
}

func (PositionOpened) Name() string { return "position_opened" }

// PartialClose is published after a confirmed partial exit.
type PartialClose struct {
	PositionID  string
	Mint        string
	SoldAmount  float64
	SolReceived float64
	Pnl         float64
	Reason      CloseReason
	At          time.Time
}

func (PartialClose) Name() string { return "partial_close" }

// PositionClosed is published after a full close (including ghost and
// dead-token closures that never reach a venue).
type PositionClosed struct {
	Position    Position
	Reason      CloseReason
	ExitPrice   float64
	RealizedPnl float64
	At          time.Time
}

func (PositionClosed) Name() string { return "position_closed" }

// TxPending is emitted by the router before its attempt loop. The capital
// allocator uses it to reserve pool headroom against concurrent buys.
type TxPending struct {
	TxID      string
	Type      TxType
	Mint      string
	Pool      PoolType
	AmountSol float64
	At        time.Time
}

func (TxPending) Name() string { return "tx_pending" }

// TxConfirmed is emitted exactly once per attempt sequence on success.
type TxConfirmed struct {
	TxID      string
	Type      TxType
	Mint      string
	Pool      PoolType
	AmountSol float64
	Signature string
	At        time.Time
}

func (TxConfirmed) Name() string { return "tx_confirmed" }

// TxFailed is emitted exactly once per attempt sequence when all retries
// are exhausted.
type TxFailed struct {
	TxID      string
	Type      TxType
	Mint      string
	Pool      PoolType
	AmountSol float64
	Error     string
	At        time.Time
}

func (TxFailed) Name() string { return "tx_failed" }

// TradingPaused is published when the drawdown guard trips.
type TradingPaused struct {
	Reason     string
	PauseUntil time.Time
	At         time.Time
}

func (TradingPaused) Name() string { return "trading_paused" }

// TradingResumed is published when the pause window elapses or an operator
// resumes explicitly.
type TradingResumed struct {
	At time.Time
}

func (TradingResumed) Name() string { return "trading_resumed" }
