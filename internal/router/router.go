// Package router routes swap requests to the right venue executor, retries
// transient failures, and accounts every attempt sequence in a pending
// ledger bracketed by lifecycle events.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
)

// Config tunes retry and balance-verification behavior.
type Config struct {
	MaxRetries        int
	BackoffBase       time.Duration
	VerifyBalance     bool
	BalanceRetries    int
	BalanceRetryDelay time.Duration
	BalanceTolerance  float64
}

// Options adjusts a single execution.
type Options struct {
	// Pool attributes the transaction to a capital pool for reservation
	// accounting.
	Pool domain.PoolType
	// SlippageBps overrides the venue's default when positive.
	SlippageBps int
	// SkipBalanceCheck trusts the caller's tracked amount on sells. Used for
	// partial closes where RPC staleness would cause false rejections.
	SkipBalanceCheck bool
}

// Router implements venue selection and the retry/event contract.
type Router struct {
	curve      domain.SwapExecutor
	aggregator domain.SwapExecutor
	wallet     domain.WalletBalancer
	bus        *events.Bus
	cfg        Config
	logger     *slog.Logger

	mu        sync.Mutex
	graduated map[string]bool
	pending   map[string]*domain.PendingTransaction
	metrics   Metrics
}

// New creates a router over the two venue executors.
func New(curve, aggregator domain.SwapExecutor, wallet domain.WalletBalancer, bus *events.Bus, cfg Config, logger *slog.Logger) *Router {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 500 * time.Millisecond
	}
	return &Router{
		curve:      curve,
		aggregator: aggregator,
		wallet:     wallet,
		bus:        bus,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "router")),
		graduated:  make(map[string]bool),
		pending:    make(map[string]*domain.PendingTransaction),
	}
}

// MarkGraduated flags a mint as having migrated off the bonding curve. The
// flag overrides the naming-convention default and is never unset.
func (r *Router) MarkGraduated(mint string) {
	r.mu.Lock()
	r.graduated[mint] = true
	r.mu.Unlock()
}

// Graduated reports whether a mint routes to the aggregator. Freshly
// launched bonding-curve mints carry a "pump" suffix; anything else is
// assumed to trade on AMM pools already.
func (r *Router) Graduated(mint string) bool {
	r.mu.Lock()
	flagged := r.graduated[mint]
	r.mu.Unlock()
	if flagged {
		return true
	}
	return !strings.HasSuffix(mint, "pump")
}

func (r *Router) executorFor(mint string) domain.SwapExecutor {
	if r.Graduated(mint) {
		return r.aggregator
	}
	return r.curve
}

// ExecuteBuy swaps amountSol of SOL into the given mint.
func (r *Router) ExecuteBuy(ctx context.Context, mint string, amountSol float64, opts Options) (domain.SwapResult, error) {
	return r.execute(ctx, domain.TxTypeBuy, mint, domain.WSOL, mint, amountSol, amountSol, opts)
}

// ExecuteSell swaps amountTokens of the given mint back into SOL. Unless
// opts.SkipBalanceCheck is set and balance verification is enabled, the
// requested amount is verified against (and clamped to) the on-chain
// balance first.
func (r *Router) ExecuteSell(ctx context.Context, mint string, amountTokens float64, opts Options) (domain.SwapResult, error) {
	if r.cfg.VerifyBalance && !opts.SkipBalanceCheck {
		verified, err := r.verifiedSellAmount(ctx, mint, amountTokens)
		if err != nil {
			return domain.SwapResult{InputMint: mint, OutputMint: domain.WSOL, InputAmount: amountTokens, Error: err.Error()}, err
		}
		amountTokens = verified
	}
	return r.execute(ctx, domain.TxTypeSell, mint, mint, domain.WSOL, amountTokens, 0, opts)
}

// verifiedSellAmount reads the on-chain balance, retrying briefly to absorb
// RPC indexing lag, and clamps the requested amount to what is actually
// held. A zero balance surfaces as domain.ErrZeroBalance.
func (r *Router) verifiedSellAmount(ctx context.Context, mint string, requested float64) (float64, error) {
	var balance float64
	var err error
	attempts := r.cfg.BalanceRetries
	if attempts <= 0 {
		attempts = 1
	}
	for i := 0; i < attempts; i++ {
		balance, err = r.wallet.TokenBalance(ctx, mint)
		if err == nil && balance >= requested {
			return requested, nil
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(r.cfg.BalanceRetryDelay):
			}
		}
	}
	if err != nil {
		return 0, fmt.Errorf("router: verify balance %s: %w", mint, err)
	}
	if balance <= 0 {
		return 0, fmt.Errorf("router: sell %s: %w", mint, domain.ErrZeroBalance)
	}

	shortfall := (requested - balance) / requested
	if shortfall > r.cfg.BalanceTolerance {
		r.logger.WarnContext(ctx, "router: on-chain balance well below tracked amount, clamping",
			slog.String("mint", mint),
			slog.Float64("requested", requested),
			slog.Float64("balance", balance))
	}
	return balance, nil
}

func (r *Router) execute(ctx context.Context, txType domain.TxType, mint, inputMint, outputMint string, amount, amountSol float64, opts Options) (domain.SwapResult, error) {
	now := time.Now()
	tx := &domain.PendingTransaction{
		ID:          uuid.New().String(),
		Type:        txType,
		Mint:        mint,
		InputAmount: amount,
		Pool:        opts.Pool,
		Status:      domain.TxStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.mu.Lock()
	r.pending[tx.ID] = tx
	r.mu.Unlock()

	r.bus.Publish(ctx, domain.TxPending{
		TxID:      tx.ID,
		Type:      txType,
		Mint:      mint,
		Pool:      opts.Pool,
		AmountSol: amountSol,
		At:        now,
	})

	exec := r.executorFor(mint)
	var result domain.SwapResult
	var err error

	backoff := r.cfg.BackoffBase
	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		r.mu.Lock()
		r.metrics.Attempts++
		r.mu.Unlock()

		result, err = exec.Swap(ctx, inputMint, outputMint, amount, opts.SlippageBps)
		if err == nil && result.Success {
			break
		}

		r.mu.Lock()
		tx.Retries = attempt
		tx.UpdatedAt = time.Now()
		r.mu.Unlock()

		if attempt == r.cfg.MaxRetries || ctx.Err() != nil {
			break
		}

		r.logger.WarnContext(ctx, "router: swap attempt failed, retrying",
			slog.String("venue", exec.Name()),
			slog.String("mint", mint),
			slog.Int("attempt", attempt),
			slog.String("error", fmt.Sprint(err)))

		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(backoff):
		}
		if err != nil && ctx.Err() != nil {
			break
		}
		backoff *= 2
	}

	r.settle(ctx, tx, amountSol, result, err)
	if err != nil {
		return result, fmt.Errorf("router: %s %s: %w", txType, mint, err)
	}
	if !result.Success {
		return result, fmt.Errorf("router: %s %s: %s", txType, mint, result.Error)
	}
	return result, nil
}

// settle finalizes the ledger entry and emits the terminal event exactly
// once.
func (r *Router) settle(ctx context.Context, tx *domain.PendingTransaction, amountSol float64, result domain.SwapResult, err error) {
	now := time.Now()

	r.mu.Lock()
	delete(r.pending, tx.ID)
	tx.UpdatedAt = now
	if err == nil && result.Success {
		tx.Status = domain.TxStatusConfirmed
		tx.Signature = result.Signature
		r.metrics.Confirmed++
		r.metrics.totalConfirmLatency += now.Sub(tx.CreatedAt)
	} else {
		tx.Status = domain.TxStatusFailed
		if err != nil {
			tx.Error = err.Error()
		} else {
			tx.Error = result.Error
		}
		r.metrics.Failed++
	}
	r.mu.Unlock()

	if tx.Status == domain.TxStatusConfirmed {
		r.bus.Publish(ctx, domain.TxConfirmed{
			TxID:      tx.ID,
			Type:      tx.Type,
			Mint:      tx.Mint,
			Pool:      tx.Pool,
			AmountSol: amountSol,
			Signature: tx.Signature,
			At:        now,
		})
		return
	}
	r.bus.Publish(ctx, domain.TxFailed{
		TxID:      tx.ID,
		Type:      tx.Type,
		Mint:      tx.Mint,
		Pool:      tx.Pool,
		AmountSol: amountSol,
		Error:     tx.Error,
		At:        now,
	})
}

// PendingCount reports the number of in-flight attempt sequences.
func (r *Router) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
