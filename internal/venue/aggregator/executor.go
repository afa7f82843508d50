// Package aggregator executes swaps through the Jupiter aggregator for
// tokens trading on AMM pools.
package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/awachter/soltrader/internal/crypto"
	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/platform/jupiter"
	"github.com/awachter/soltrader/internal/platform/rpc"
)

const (
	solDecimals = 9
	// Bonding-curve launches mint with 6 decimals.
	tokenDecimals = 6
)

// Config tunes the executor.
type Config struct {
	DefaultSlippageBps int
	PriorityFeeSol     float64
	ConfirmTimeout     time.Duration
	PaperTrading       bool
	PaperSlippageBps   int
}

// Executor implements domain.SwapExecutor over Jupiter.
type Executor struct {
	client *jupiter.Client
	rpc    *rpc.Client
	signer *crypto.Signer
	sender domain.TxSender
	cfg    Config
	logger *slog.Logger
}

var _ domain.SwapExecutor = (*Executor)(nil)

// New creates a Jupiter-backed executor. signer may be nil in paper mode.
func New(client *jupiter.Client, rpcClient *rpc.Client, signer *crypto.Signer, cfg Config, logger *slog.Logger) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return &Executor{
		client: client,
		rpc:    rpcClient,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "aggregator_executor")),
	}
}

// UseSender routes live submissions through the given sender (the atomic
// bundle path) instead of plain RPC submission.
func (e *Executor) UseSender(s domain.TxSender) { e.sender = s }

// Name identifies the venue.
func (e *Executor) Name() string { return "jupiter" }

func decimalsFor(mint string) int {
	if mint == domain.WSOL {
		return solDecimals
	}
	return tokenDecimals
}

func toRaw(mint string, amount float64) uint64 {
	return uint64(math.Round(amount * math.Pow10(decimalsFor(mint))))
}

func fromRaw(mint string, raw uint64) float64 {
	return float64(raw) / math.Pow10(decimalsFor(mint))
}

// Quote prices a swap without executing it. A route Jupiter cannot build
// surfaces as a wrapped domain.ErrNoRoute.
func (e *Executor) Quote(ctx context.Context, inputMint, outputMint string, amount float64) (*domain.SwapQuote, error) {
	raw := toRaw(inputMint, amount)
	if raw == 0 {
		return nil, fmt.Errorf("aggregator: quote %s->%s: zero input", inputMint, outputMint)
	}

	quote, err := e.client.Quote(ctx, inputMint, outputMint, raw, e.cfg.DefaultSlippageBps)
	if err != nil {
		return nil, fmt.Errorf("aggregator: quote %s->%s: %w", inputMint, outputMint, domain.ErrNoRoute)
	}

	outRaw, err := quote.OutAmountRaw()
	if err != nil || outRaw == 0 {
		return nil, fmt.Errorf("aggregator: quote %s->%s: %w", inputMint, outputMint, domain.ErrNoRoute)
	}

	return &domain.SwapQuote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       amount,
		OutAmount:      fromRaw(outputMint, outRaw),
		PriceImpactPct: quote.PriceImpact(),
		FeeSol:         e.cfg.PriorityFeeSol,
	}, nil
}

// Swap executes a swap, waiting for on-chain confirmation and reporting
// settled amounts. In paper mode it fills against the live quote with
// simulated slippage instead of touching the chain.
func (e *Executor) Swap(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapResult, error) {
	if slippageBps <= 0 {
		slippageBps = e.cfg.DefaultSlippageBps
	}

	raw := toRaw(inputMint, amount)
	quote, err := e.client.Quote(ctx, inputMint, outputMint, raw, slippageBps)
	if err != nil {
		return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("aggregator: swap quote: %w", err)
	}
	outRaw, err := quote.OutAmountRaw()
	if err != nil || outRaw == 0 {
		return failedResult(inputMint, outputMint, amount, domain.ErrNoRoute),
			fmt.Errorf("aggregator: swap quote: %w", domain.ErrNoRoute)
	}
	quotedOut := fromRaw(outputMint, outRaw)

	if e.cfg.PaperTrading {
		return e.paperFill(inputMint, outputMint, amount, quotedOut), nil
	}

	txBase64, err := e.client.SwapTransaction(ctx, quote, e.signer.PublicKey(), uint64(e.cfg.PriorityFeeSol*1e9))
	if err != nil {
		return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("aggregator: build swap: %w", err)
	}

	signed, err := e.signer.SignTransactionBase64(txBase64)
	if err != nil {
		return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("aggregator: sign swap: %w", err)
	}

	var signature string
	if e.sender != nil {
		signature, err = e.sender.SendSigned(ctx, signed)
		if err != nil {
			return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("aggregator: submit swap bundle: %w", err)
		}
	} else {
		signature, err = e.rpc.SendTransaction(ctx, signed)
		if err != nil {
			return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("aggregator: submit swap: %w", err)
		}
		if err := e.rpc.WaitForConfirmation(ctx, signature, e.cfg.ConfirmTimeout); err != nil {
			res := failedResult(inputMint, outputMint, amount, err)
			res.Signature = signature
			return res, fmt.Errorf("aggregator: confirm swap: %w", err)
		}
	}

	result := domain.SwapResult{
		Success:      true,
		InputMint:    inputMint,
		OutputMint:   outputMint,
		InputAmount:  amount,
		OutputAmount: quotedOut,
		FeeSol:       e.cfg.PriorityFeeSol,
		Signature:    signature,
	}

	// Prefer settled post-state amounts over the quote when available.
	if meta, merr := e.rpc.GetTransactionMeta(ctx, signature); merr == nil {
		applySettled(&result, meta)
	} else {
		e.logger.WarnContext(ctx, "aggregator: settled amounts unavailable, using quote",
			slog.String("signature", signature),
			slog.String("error", merr.Error()))
	}

	result.Price = swapPrice(result)
	return result, nil
}

func (e *Executor) paperFill(inputMint, outputMint string, amount, quotedOut float64) domain.SwapResult {
	slip := float64(rand.Intn(e.cfg.PaperSlippageBps+1)) / 10_000
	result := domain.SwapResult{
		Success:      true,
		InputMint:    inputMint,
		OutputMint:   outputMint,
		InputAmount:  amount,
		OutputAmount: quotedOut * (1 - slip),
		FeeSol:       e.cfg.PriorityFeeSol,
		Simulated:    true,
	}
	result.Price = swapPrice(result)
	return result
}

func failedResult(inputMint, outputMint string, amount float64, err error) domain.SwapResult {
	return domain.SwapResult{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InputAmount: amount,
		Error:       err.Error(),
	}
}

// applySettled overwrites quoted amounts with the wallet's actual balance
// deltas from the confirmed transaction.
func applySettled(result *domain.SwapResult, meta rpc.TransactionMeta) {
	result.FeeSol = meta.FeeSol
	for _, delta := range meta.TokenDeltas {
		switch delta.Mint {
		case result.OutputMint:
			if delta.Delta > 0 {
				result.OutputAmount = delta.Delta
			}
		case result.InputMint:
			if delta.Delta < 0 {
				result.InputAmount = -delta.Delta
			}
		}
	}
	if result.OutputMint == domain.WSOL && meta.SolDelta > 0 {
		result.OutputAmount = meta.SolDelta
	}
	if result.InputMint == domain.WSOL && meta.SolDelta < 0 {
		result.InputAmount = -meta.SolDelta - meta.FeeSol
	}
}

// swapPrice reports SOL per token regardless of swap direction.
func swapPrice(r domain.SwapResult) float64 {
	switch {
	case r.InputMint == domain.WSOL && r.OutputAmount > 0:
		return r.InputAmount / r.OutputAmount
	case r.OutputMint == domain.WSOL && r.InputAmount > 0:
		return r.OutputAmount / r.InputAmount
	default:
		return 0
	}
}
