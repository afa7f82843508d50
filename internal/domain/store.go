package domain

import (
	"context"
	"time"
)

// PricePoint is one observation from the external price feed, priced in SOL.
type PricePoint struct {
	PriceSol  float64
	Timestamp time.Time
}

// PriceFeed is the external price-data collaborator. GetPrice returns
// ErrNotFound when no observation exists; FetchTokenPrice forces a fresh
// fetch for assets still on the bonding curve.
type PriceFeed interface {
	GetPrice(ctx context.Context, mint string) (PricePoint, error)
	FetchTokenPrice(ctx context.Context, mint string) (PricePoint, error)
	GetPriceHistory(ctx context.Context, mint string, n int) ([]PricePoint, error)
	AddToWatchList(ctx context.Context, mint string) error
	RemoveFromWatchList(ctx context.Context, mint string) error
}

// PositionStore is the persistence repository for positions and their
// partial-close history.
type PositionStore interface {
	Upsert(ctx context.Context, pos Position) error
	Close(ctx context.Context, id string, exitPrice float64, reason CloseReason, realizedPnl float64) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpen(ctx context.Context) ([]Position, error)
	InsertPartialClose(ctx context.Context, rec PartialCloseRecord) error
	PartialClosePnl(ctx context.Context, positionID string) (float64, error)
	ListClosedBefore(ctx context.Context, before time.Time) ([]Position, error)
	ListPartialClosesBefore(ctx context.Context, before time.Time) ([]PartialCloseRecord, error)
}

// DrawdownStore persists the circuit-breaker state across restarts.
type DrawdownStore interface {
	Load(ctx context.Context) (DrawdownState, error)
	Save(ctx context.Context, st DrawdownState) error
	SaveDailyStats(ctx context.Context, stats DailyStats) error
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
}

// MomentumStrengthLevel grades how strong a token's momentum currently is.
type MomentumStrengthLevel string

const (
	MomentumWeak   MomentumStrengthLevel = "weak"
	MomentumMedium MomentumStrengthLevel = "medium"
	MomentumStrong MomentumStrengthLevel = "strong"
)

// MomentumSignal is the momentum source's grading of a mint.
type MomentumSignal struct {
	Strength MomentumStrengthLevel
	Reason   string
}

// ExitMetrics carries the inputs the momentum source uses to decide whether
// a position should be abandoned now.
type ExitMetrics struct {
	Mint              string
	PriceTicksDown    int
	DistanceFromHigh  float64 // fraction below the local high
	SecondsSinceEntry float64
}

// MomentumSource is the external momentum/heat collaborator.
type MomentumSource interface {
	MomentumStrength(ctx context.Context, mint string) (MomentumSignal, error)
	ShouldExitNow(ctx context.Context, m ExitMetrics, profitPercent float64) (bool, error)
}

// WalletBalancer reads on-chain balances. The wallet is always authoritative
// over internally computed capital totals.
type WalletBalancer interface {
	SolBalance(ctx context.Context) (float64, error)
	TokenBalance(ctx context.Context, mint string) (float64, error)
}

// SignalBus is durable, ordered external messaging (Redis streams) used to
// mirror typed events for out-of-process observers.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// LockManager provides coarse distributed locks, used to ensure only one
// trader instance mutates a wallet's positions at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// BlobWriter stores archive objects (closed-position history as JSONL).
type BlobWriter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) error
}
