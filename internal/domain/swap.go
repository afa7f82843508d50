package domain

import (
	"context"
	"time"
)

// TxType distinguishes buys from sells in the pending-transaction ledger.
type TxType string

const (
	TxTypeBuy  TxType = "buy"
	TxTypeSell TxType = "sell"
)

// TxStatus is the terminal-or-not state of one execution attempt sequence.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
)

// PendingTransaction exists for the duration of one router attempt sequence
// and always terminates in confirmed or failed.
type PendingTransaction struct {
	ID          string
	Type        TxType
	Mint        string
	InputAmount float64
	Pool        PoolType
	Status      TxStatus
	Retries     int
	Signature   string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SwapQuote describes an intended swap. Immutable value object.
type SwapQuote struct {
	InputMint      string
	OutputMint     string
	InAmount       float64
	OutAmount      float64
	PriceImpactPct float64
	FeeSol         float64
}

// SwapResult describes a realized (or failed, or simulated) swap.
// OutputAmount is the settled amount: for bonding-curve fills it is parsed
// from the transaction's post-state, not the pre-trade estimate.
type SwapResult struct {
	Success      bool
	InputMint    string
	OutputMint   string
	InputAmount  float64
	OutputAmount float64
	Price        float64
	FeeSol       float64
	Signature    string
	Simulated    bool
	Error        string
}

// SwapExecutor is one venue-specific swap implementation. Quote returns
// ErrNoRoute (wrapped) or a nil quote when the venue cannot price the pair.
type SwapExecutor interface {
	Name() string
	Quote(ctx context.Context, inputMint, outputMint string, amount float64) (*SwapQuote, error)
	Swap(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (SwapResult, error)
}

// TxSender dispatches a fully signed transaction and blocks until it is
// final, returning its signature. It abstracts the delivery path: plain RPC
// submission or an atomic tip-carrying bundle.
type TxSender interface {
	SendSigned(ctx context.Context, signedTxBase64 string) (string, error)
}

// WSOL is the wrapped-SOL mint all quotes are priced against.
const WSOL = "So11111111111111111111111111111111111111112"
