package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedExecutor returns its results in order, repeating the last one.
type scriptedExecutor struct {
	name       string
	results    []domain.SwapResult
	errs       []error
	calls      int
	lastAmount float64
}

func (e *scriptedExecutor) Name() string { return e.name }

func (e *scriptedExecutor) Quote(ctx context.Context, inputMint, outputMint string, amount float64) (*domain.SwapQuote, error) {
	return nil, domain.ErrNoRoute
}

func (e *scriptedExecutor) Swap(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapResult, error) {
	i := e.calls
	if i >= len(e.results) {
		i = len(e.results) - 1
	}
	e.calls++
	e.lastAmount = amount
	return e.results[i], e.errs[i]
}

func success(sig string) domain.SwapResult {
	return domain.SwapResult{Success: true, InputAmount: 1, OutputAmount: 1000, Price: 0.001, Signature: sig}
}

type routerBalances struct {
	tokens map[string]float64
	err    error
	calls  int
}

func (w *routerBalances) SolBalance(ctx context.Context) (float64, error) { return 0, nil }

func (w *routerBalances) TokenBalance(ctx context.Context, mint string) (float64, error) {
	w.calls++
	return w.tokens[mint], w.err
}

type routerFixture struct {
	router *Router
	curve  *scriptedExecutor
	agg    *scriptedExecutor
	wallet *routerBalances
	events *[]domain.Event
}

func newRouterFixture(t *testing.T, cfg Config) *routerFixture {
	t.Helper()
	curve := &scriptedExecutor{name: "pumpfun", results: []domain.SwapResult{success("curve-sig")}, errs: []error{nil}}
	agg := &scriptedExecutor{name: "jupiter", results: []domain.SwapResult{success("agg-sig")}, errs: []error{nil}}
	wallet := &routerBalances{tokens: make(map[string]float64)}

	bus := events.NewBus(nil, testLogger())
	var published []domain.Event
	bus.Subscribe(func(evt domain.Event) { published = append(published, evt) })

	return &routerFixture{
		router: New(curve, agg, wallet, bus, cfg, testLogger()),
		curve:  curve,
		agg:    agg,
		wallet: wallet,
		events: &published,
	}
}

func TestRoutingByMintSuffix(t *testing.T) {
	f := newRouterFixture(t, Config{MaxRetries: 1, BackoffBase: time.Millisecond})

	_, err := f.router.ExecuteBuy(context.Background(), "FreshTokenpump", 1.0, Options{Pool: domain.PoolHighRisk})
	require.NoError(t, err)
	assert.Equal(t, 1, f.curve.calls)
	assert.Zero(t, f.agg.calls)

	_, err = f.router.ExecuteBuy(context.Background(), "GraduatedToken", 1.0, Options{Pool: domain.PoolActive})
	require.NoError(t, err)
	assert.Equal(t, 1, f.agg.calls)
}

func TestMarkGraduatedOverridesSuffix(t *testing.T) {
	f := newRouterFixture(t, Config{MaxRetries: 1, BackoffBase: time.Millisecond})

	assert.False(t, f.router.Graduated("FreshTokenpump"))
	f.router.MarkGraduated("FreshTokenpump")
	assert.True(t, f.router.Graduated("FreshTokenpump"))

	_, err := f.router.ExecuteBuy(context.Background(), "FreshTokenpump", 1.0, Options{})
	require.NoError(t, err)
	assert.Zero(t, f.curve.calls)
	assert.Equal(t, 1, f.agg.calls)
}

func TestRetryUntilSuccess(t *testing.T) {
	f := newRouterFixture(t, Config{MaxRetries: 3, BackoffBase: time.Millisecond})
	f.curve.results = []domain.SwapResult{
		{Success: false, Error: "blockhash expired"},
		{Success: false, Error: "blockhash expired"},
		success("third-time"),
	}
	f.curve.errs = []error{nil, nil, nil}

	result, err := f.router.ExecuteBuy(context.Background(), "FreshTokenpump", 1.0, Options{})
	require.NoError(t, err)
	assert.Equal(t, "third-time", result.Signature)
	assert.Equal(t, 3, f.curve.calls)
}

func TestRetriesExhaustedFails(t *testing.T) {
	f := newRouterFixture(t, Config{MaxRetries: 3, BackoffBase: time.Millisecond})
	f.curve.results = []domain.SwapResult{{}}
	f.curve.errs = []error{errors.New("node unavailable")}

	_, err := f.router.ExecuteBuy(context.Background(), "FreshTokenpump", 1.0, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node unavailable")
	assert.Equal(t, 3, f.curve.calls)

	m := f.router.Metrics()
	assert.Equal(t, int64(3), m.Attempts)
	assert.Equal(t, int64(1), m.Failed)
	assert.Zero(t, m.Confirmed)
}

func TestExactlyOneTerminalEvent(t *testing.T) {
	f := newRouterFixture(t, Config{MaxRetries: 1, BackoffBase: time.Millisecond})

	_, err := f.router.ExecuteBuy(context.Background(), "FreshTokenpump", 1.5, Options{Pool: domain.PoolHighRisk})
	require.NoError(t, err)

	published := *f.events
	require.Len(t, published, 2)

	pending, ok := published[0].(domain.TxPending)
	require.True(t, ok, "tx_pending comes first")
	assert.Equal(t, domain.TxTypeBuy, pending.Type)
	assert.Equal(t, 1.5, pending.AmountSol)
	assert.Equal(t, domain.PoolHighRisk, pending.Pool)

	confirmed, ok := published[1].(domain.TxConfirmed)
	require.True(t, ok, "terminal event follows")
	assert.Equal(t, pending.TxID, confirmed.TxID)
	assert.Equal(t, "curve-sig", confirmed.Signature)

	assert.Zero(t, f.router.PendingCount(), "ledger entry settled")
}

func TestFailureEmitsTxFailed(t *testing.T) {
	f := newRouterFixture(t, Config{MaxRetries: 1, BackoffBase: time.Millisecond})
	f.curve.results = []domain.SwapResult{{Success: false, Error: "slippage exceeded"}}

	_, err := f.router.ExecuteBuy(context.Background(), "FreshTokenpump", 1.0, Options{})
	require.Error(t, err)

	published := *f.events
	require.Len(t, published, 2)
	failed, ok := published[1].(domain.TxFailed)
	require.True(t, ok)
	assert.Equal(t, "slippage exceeded", failed.Error)
	assert.Zero(t, f.router.PendingCount())
}

func TestSellClampsToOnChainBalance(t *testing.T) {
	f := newRouterFixture(t, Config{
		MaxRetries:       1,
		BackoffBase:      time.Millisecond,
		VerifyBalance:    true,
		BalanceRetries:   1,
		BalanceTolerance: 0.05,
	})
	f.wallet.tokens["FreshTokenpump"] = 600_000

	_, err := f.router.ExecuteSell(context.Background(), "FreshTokenpump", 1_000_000, Options{})
	require.NoError(t, err)

	// The executor must have been asked for the held amount, not the
	// tracked one.
	assert.Equal(t, 1, f.curve.calls)
	assert.Equal(t, 600_000.0, f.curve.lastAmount)
}

func TestSellZeroBalance(t *testing.T) {
	f := newRouterFixture(t, Config{
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		VerifyBalance:  true,
		BalanceRetries: 2,
	})
	f.wallet.tokens["FreshTokenpump"] = 0

	_, err := f.router.ExecuteSell(context.Background(), "FreshTokenpump", 1_000_000, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrZeroBalance)
	assert.Equal(t, 2, f.wallet.calls, "balance read retried to absorb indexing lag")
	assert.Zero(t, f.curve.calls, "no swap attempted")
	assert.Empty(t, *f.events, "nothing entered the pending ledger")
}

func TestSkipBalanceCheckBypassesWallet(t *testing.T) {
	f := newRouterFixture(t, Config{
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		VerifyBalance:  true,
		BalanceRetries: 1,
	})
	f.wallet.tokens["FreshTokenpump"] = 0

	_, err := f.router.ExecuteSell(context.Background(), "FreshTokenpump", 1_000_000, Options{SkipBalanceCheck: true})
	require.NoError(t, err)
	assert.Zero(t, f.wallet.calls)
	assert.Equal(t, 1, f.curve.calls)
}
