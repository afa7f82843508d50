package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/platform/jupiter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testMint = "GraduatedToken1111111111111111111111111111"

// quoteServer serves the given out amount for every quote request.
func quoteServer(t *testing.T, outAmountRaw uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		fmt.Fprintf(w, `{
			"inputMint": %q,
			"outputMint": %q,
			"inAmount": %q,
			"outAmount": "%d",
			"priceImpactPct": "0.002",
			"slippageBps": 250
		}`, q.Get("inputMint"), q.Get("outputMint"), q.Get("amount"), outAmountRaw)
	}))
}

func newPaperExecutor(t *testing.T, srv *httptest.Server) *Executor {
	t.Helper()
	return New(jupiter.NewClient(srv.URL), nil, nil, Config{
		DefaultSlippageBps: 250,
		PriorityFeeSol:     0.0005,
		PaperTrading:       true,
		PaperSlippageBps:   0,
	}, testLogger())
}

func TestQuote(t *testing.T) {
	// 1 SOL in, 1,000,000 tokens out (6-decimal base units).
	srv := quoteServer(t, 1_000_000_000_000)
	defer srv.Close()
	e := newPaperExecutor(t, srv)

	quote, err := e.Quote(context.Background(), domain.WSOL, testMint, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, quote.InAmount)
	assert.InDelta(t, 1_000_000, quote.OutAmount, 1e-6)
	assert.Equal(t, 0.002, quote.PriceImpactPct)
	assert.Equal(t, 0.0005, quote.FeeSol)
}

func TestQuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"no route"}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	e := newPaperExecutor(t, srv)

	_, err := e.Quote(context.Background(), domain.WSOL, testMint, 1.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoRoute)
}

func TestPaperBuyFillsAgainstQuote(t *testing.T) {
	srv := quoteServer(t, 1_000_000_000_000)
	defer srv.Close()
	e := newPaperExecutor(t, srv)

	result, err := e.Swap(context.Background(), domain.WSOL, testMint, 1.0, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Simulated)
	assert.Empty(t, result.Signature, "nothing touched the chain")
	assert.Equal(t, 1.0, result.InputAmount)
	assert.InDelta(t, 1_000_000, result.OutputAmount, 1e-6)
	// SOL per token.
	assert.InDelta(t, 0.000001, result.Price, 1e-12)
}

func TestPaperSellPricesInSolPerToken(t *testing.T) {
	// 1,000,000 tokens in, 1.2 SOL out (9-decimal base units).
	srv := quoteServer(t, 1_200_000_000)
	defer srv.Close()
	e := newPaperExecutor(t, srv)

	result, err := e.Swap(context.Background(), testMint, domain.WSOL, 1_000_000, 0)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.InDelta(t, 1.2, result.OutputAmount, 1e-9)
	assert.InDelta(t, 1.2/1_000_000, result.Price, 1e-15)
}

func TestPaperSlippageNeverExceedsConfigured(t *testing.T) {
	srv := quoteServer(t, 1_000_000_000_000)
	defer srv.Close()
	e := New(jupiter.NewClient(srv.URL), nil, nil, Config{
		DefaultSlippageBps: 250,
		PaperTrading:       true,
		PaperSlippageBps:   100,
	}, testLogger())

	for i := 0; i < 20; i++ {
		result, err := e.Swap(context.Background(), domain.WSOL, testMint, 1.0, 0)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, result.OutputAmount, 1_000_000*(1-0.01)-1e-6)
		assert.LessOrEqual(t, result.OutputAmount, 1_000_000.0)
	}
}

func TestSwapZeroQuoteFails(t *testing.T) {
	srv := quoteServer(t, 0)
	defer srv.Close()
	e := newPaperExecutor(t, srv)

	result, err := e.Swap(context.Background(), domain.WSOL, testMint, 1.0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoRoute)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestSwapDecodesQuoteWireFormat(t *testing.T) {
	var captured map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = map[string]string{
			"amount":      r.URL.Query().Get("amount"),
			"slippageBps": r.URL.Query().Get("slippageBps"),
		}
		json.NewEncoder(w).Encode(map[string]any{
			"inputMint":      domain.WSOL,
			"outputMint":     testMint,
			"inAmount":       "500000000",
			"outAmount":      "400000000000",
			"priceImpactPct": "0.01",
		})
	}))
	defer srv.Close()
	e := newPaperExecutor(t, srv)

	_, err := e.Swap(context.Background(), domain.WSOL, testMint, 0.5, 300)
	require.NoError(t, err)
	assert.Equal(t, "500000000", captured["amount"], "SOL amount in lamports")
	assert.Equal(t, "300", captured["slippageBps"], "caller override wins over default")
}
