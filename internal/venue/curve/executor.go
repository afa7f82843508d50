// Package curve executes swaps against the pump.fun bonding curve for tokens
// that have not graduated to AMM pools.
package curve

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/awachter/soltrader/internal/crypto"
	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/platform/pumpfun"
	"github.com/awachter/soltrader/internal/platform/rpc"
)

// Config tunes the executor.
type Config struct {
	DefaultSlippageBps int
	PriorityFeeSol     float64
	ConfirmTimeout     time.Duration
	PaperTrading       bool
	PaperSlippageBps   int
}

// Executor implements domain.SwapExecutor over the bonding curve.
type Executor struct {
	client *pumpfun.Client
	rpc    *rpc.Client
	signer *crypto.Signer
	sender domain.TxSender
	cfg    Config
	logger *slog.Logger
}

var _ domain.SwapExecutor = (*Executor)(nil)

// UseSender routes live submissions through the given sender (the atomic
// bundle path) instead of plain RPC submission.
func (e *Executor) UseSender(s domain.TxSender) { e.sender = s }

// New creates a bonding-curve executor. signer may be nil in paper mode.
func New(client *pumpfun.Client, rpcClient *rpc.Client, signer *crypto.Signer, cfg Config, logger *slog.Logger) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	return &Executor{
		client: client,
		rpc:    rpcClient,
		signer: signer,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "curve_executor")),
	}
}

// Name identifies the venue.
func (e *Executor) Name() string { return "pumpfun" }

// Quote estimates a fill from the curve's virtual reserves using the
// constant-product invariant. A graduated coin cannot be traded here and
// surfaces as a wrapped domain.ErrNoRoute.
func (e *Executor) Quote(ctx context.Context, inputMint, outputMint string, amount float64) (*domain.SwapQuote, error) {
	mint := tokenMint(inputMint, outputMint)
	if mint == "" {
		return nil, fmt.Errorf("curve: quote %s->%s: %w", inputMint, outputMint, domain.ErrNoRoute)
	}

	info, err := e.client.GetCoin(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("curve: quote %s: %w", mint, err)
	}
	if info.Complete {
		return nil, fmt.Errorf("curve: quote %s: graduated: %w", mint, domain.ErrNoRoute)
	}

	solReserves := info.VirtualSolReserves / 1e9
	tokenReserves := info.VirtualTokenReserves / 1e6
	if solReserves <= 0 || tokenReserves <= 0 {
		return nil, fmt.Errorf("curve: quote %s: empty reserves: %w", mint, domain.ErrNoRoute)
	}
	k := solReserves * tokenReserves

	var out, impact float64
	if inputMint == domain.WSOL {
		out = tokenReserves - k/(solReserves+amount)
		impact = amount / solReserves
	} else {
		out = solReserves - k/(tokenReserves+amount)
		impact = amount / tokenReserves
	}
	if out <= 0 {
		return nil, fmt.Errorf("curve: quote %s: no output: %w", mint, domain.ErrNoRoute)
	}

	return &domain.SwapQuote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       amount,
		OutAmount:      out,
		PriceImpactPct: impact,
		FeeSol:         e.cfg.PriorityFeeSol,
	}, nil
}

// Swap executes a bonding-curve trade. Settled amounts for live fills come
// from the confirmed transaction's post-state, since curve fills routinely
// deviate from the pre-trade estimate.
func (e *Executor) Swap(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapResult, error) {
	if slippageBps <= 0 {
		slippageBps = e.cfg.DefaultSlippageBps
	}

	quote, err := e.Quote(ctx, inputMint, outputMint, amount)
	if err != nil {
		return failedResult(inputMint, outputMint, amount, err), err
	}

	if e.cfg.PaperTrading {
		return e.paperFill(inputMint, outputMint, amount, quote.OutAmount), nil
	}

	mint := tokenMint(inputMint, outputMint)
	tr := pumpfun.TradeRequest{
		PublicKey:      e.signer.PublicKey(),
		Mint:           mint,
		SlippageBps:    slippageBps,
		PriorityFeeSol: e.cfg.PriorityFeeSol,
	}
	if inputMint == domain.WSOL {
		tr.Action = "buy"
		tr.Amount = amount
		tr.DenominatedInSol = true
	} else {
		tr.Action = "sell"
		tr.Amount = amount
	}

	txBase64, err := e.client.BuildTradeTransaction(ctx, tr)
	if err != nil {
		return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("curve: build trade: %w", err)
	}

	signed, err := e.signer.SignTransactionBase64(txBase64)
	if err != nil {
		return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("curve: sign trade: %w", err)
	}

	var signature string
	if e.sender != nil {
		signature, err = e.sender.SendSigned(ctx, signed)
		if err != nil {
			return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("curve: submit trade bundle: %w", err)
		}
	} else {
		signature, err = e.rpc.SendTransaction(ctx, signed)
		if err != nil {
			return failedResult(inputMint, outputMint, amount, err), fmt.Errorf("curve: submit trade: %w", err)
		}
		if err := e.rpc.WaitForConfirmation(ctx, signature, e.cfg.ConfirmTimeout); err != nil {
			res := failedResult(inputMint, outputMint, amount, err)
			res.Signature = signature
			return res, fmt.Errorf("curve: confirm trade: %w", err)
		}
	}

	result := domain.SwapResult{
		Success:      true,
		InputMint:    inputMint,
		OutputMint:   outputMint,
		InputAmount:  amount,
		OutputAmount: quote.OutAmount,
		FeeSol:       e.cfg.PriorityFeeSol,
		Signature:    signature,
	}

	meta, merr := e.rpc.GetTransactionMeta(ctx, signature)
	if merr == nil {
		applySettled(&result, meta)
	} else {
		e.logger.WarnContext(ctx, "curve: settled amounts unavailable, using estimate",
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

// tokenMint picks the non-SOL side of the pair, or "" when neither or both
// sides are SOL.
func tokenMint(inputMint, outputMint string) string {
	switch {
	case inputMint == domain.WSOL && outputMint != domain.WSOL:
		return outputMint
	case outputMint == domain.WSOL && inputMint != domain.WSOL:
		return inputMint
	default:
		return ""
	}
}

func failedResult(inputMint, outputMint string, amount float64, err error) domain.SwapResult {
	return domain.SwapResult{
		InputMint:   inputMint,
		OutputMint:  outputMint,
		InputAmount: amount,
		Error:       err.Error(),
	}
}

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
