// Package trade runs the entry pipeline: buy signals arrive on a channel,
// pass the circuit breaker and capital admission checks, and become open
// positions.
package trade

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/position"
	"github.com/awachter/soltrader/internal/risk"
)

// EntrySignal is one candidate buy produced by upstream decision logic.
type EntrySignal struct {
	Mint    string
	Symbol  string
	SizeSol float64
	Pool    domain.PoolType
}

// Executor consumes entry signals and opens positions.
type Executor struct {
	signals   chan EntrySignal
	guard     *risk.Guard
	allocator *risk.Allocator
	manager   *position.Manager
	logger    *slog.Logger
}

// NewExecutor creates the entry executor with a buffered signal queue.
func NewExecutor(guard *risk.Guard, allocator *risk.Allocator, manager *position.Manager, logger *slog.Logger) *Executor {
	return &Executor{
		signals:   make(chan EntrySignal, 64),
		guard:     guard,
		allocator: allocator,
		manager:   manager,
		logger:    logger.With(slog.String("component", "entry_executor")),
	}
}

// Submit queues a signal without blocking. A full queue rejects the signal:
// stale entry candidates are worthless.
func (e *Executor) Submit(sig EntrySignal) error {
	select {
	case e.signals <- sig:
		return nil
	default:
		return fmt.Errorf("trade: signal queue full, dropped %s", sig.Mint)
	}
}

// Run processes signals until the context is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-e.signals:
			e.handle(ctx, sig)
		}
	}
}

func (e *Executor) handle(ctx context.Context, sig EntrySignal) {
	if !e.guard.CanTrade() {
		e.logger.InfoContext(ctx, "trade: entry blocked, trading paused",
			slog.String("mint", sig.Mint))
		return
	}

	decision := e.allocator.CheckRisk(sig.SizeSol, sig.Pool)
	for _, w := range decision.Warnings {
		e.logger.WarnContext(ctx, "trade: risk check warning",
			slog.String("mint", sig.Mint),
			slog.String("warning", w))
	}
	if !decision.Approved {
		e.logger.InfoContext(ctx, "trade: entry rejected",
			slog.String("mint", sig.Mint),
			slog.String("reason", decision.Reason))
		return
	}

	if _, err := e.manager.Open(ctx, sig.Mint, sig.Symbol, decision.AdjustedSize, sig.Pool); err != nil {
		e.logger.WarnContext(ctx, "trade: open failed",
			slog.String("mint", sig.Mint),
			slog.String("error", err.Error()))
	}
}
