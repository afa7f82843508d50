package risk

import (
	"context"
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

type fakeWallet struct {
	sol    float64
	tokens map[string]float64
	err    error
}

func (w *fakeWallet) SolBalance(ctx context.Context) (float64, error) {
	return w.sol, w.err
}

func (w *fakeWallet) TokenBalance(ctx context.Context, mint string) (float64, error) {
	return w.tokens[mint], w.err
}

func testAllocatorConfig() AllocatorConfig {
	return AllocatorConfig{
		InitialCapitalSol:   10,
		ReserveFraction:     0.20,
		ActiveFraction:      0.60,
		HighRiskFraction:    0.20,
		MaxPositions:        3,
		MaxPositionFraction: 0.10,
		MinPositionSol:      0.05,
	}
}

func newTestAllocator(t *testing.T) (*Allocator, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil, testLogger())
	return NewAllocator(testAllocatorConfig(), &fakeWallet{sol: 10}, bus, testLogger()), bus
}

func TestCheckRiskApprovesWithinLimits(t *testing.T) {
	a, _ := newTestAllocator(t)

	dec := a.CheckRisk(0.5, domain.PoolHighRisk)
	require.True(t, dec.Approved)
	assert.Equal(t, 0.5, dec.AdjustedSize)
	assert.Empty(t, dec.Warnings)
}

func TestCheckRiskShrinksToPoolAndCap(t *testing.T) {
	a, _ := newTestAllocator(t)

	// High-risk pool holds 2 SOL; the per-position cap is 10% of total.
	dec := a.CheckRisk(3.0, domain.PoolHighRisk)
	require.True(t, dec.Approved)
	assert.InDelta(t, 1.0, dec.AdjustedSize, 1e-9)
	assert.Len(t, dec.Warnings, 2)
}

func TestCheckRiskRejectsBelowMinimum(t *testing.T) {
	a, _ := newTestAllocator(t)

	dec := a.CheckRisk(0.01, domain.PoolActive)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "below minimum")
}

func TestCheckRiskRejectsAtMaxPositions(t *testing.T) {
	a, _ := newTestAllocator(t)

	for i := 0; i < 3; i++ {
		a.ReserveCapital(0.5, domain.PoolActive)
	}
	dec := a.CheckRisk(0.5, domain.PoolActive)
	assert.False(t, dec.Approved)
	assert.Contains(t, dec.Reason, "max concurrent positions")
}

func TestCheckRiskShrinksToExposureHeadroom(t *testing.T) {
	a, _ := newTestAllocator(t)

	// Tradable capital is 8 SOL (total minus reserve). Tie up 7.8 of it.
	a.ReserveCapital(4.0, domain.PoolActive)
	a.ReserveCapital(3.8, domain.PoolHighRisk)

	dec := a.CheckRisk(1.0, domain.PoolActive)
	require.True(t, dec.Approved)
	assert.InDelta(t, 0.2, dec.AdjustedSize, 1e-9)
	assert.NotEmpty(t, dec.Warnings)
}

func TestPendingReservationGatesConcurrentBuys(t *testing.T) {
	a, bus := newTestAllocator(t)
	ctx := context.Background()

	bus.Publish(ctx, domain.TxPending{
		TxID:      "tx-1",
		Type:      domain.TxTypeBuy,
		Pool:      domain.PoolHighRisk,
		AmountSol: 1.5,
		At:        time.Now(),
	})

	// Only 0.5 of the 2 SOL high-risk pool is effectively free now.
	dec := a.CheckRisk(1.0, domain.PoolHighRisk)
	require.True(t, dec.Approved)
	assert.InDelta(t, 0.5, dec.AdjustedSize, 1e-9)
	assert.NotEmpty(t, dec.Warnings)

	bus.Publish(ctx, domain.TxFailed{
		TxID: "tx-1",
		Type: domain.TxTypeBuy,
		Pool: domain.PoolHighRisk,
	})

	dec = a.CheckRisk(1.0, domain.PoolHighRisk)
	require.True(t, dec.Approved)
	assert.InDelta(t, 1.0, dec.AdjustedSize, 1e-9)
}

func TestReleaseCapitalFloorsAtZero(t *testing.T) {
	a, _ := newTestAllocator(t)

	a.ReserveCapital(1.0, domain.PoolActive)
	a.ReleaseCapital(5.0, domain.PoolActive)

	assert.Equal(t, 0.0, a.Allocation().Active.InPositionsSol)
	assert.Equal(t, 0, a.OpenPositions())
}

func TestSyncWithWalletPreservesExposure(t *testing.T) {
	bus := events.NewBus(nil, testLogger())
	wallet := &fakeWallet{sol: 5}
	a := NewAllocator(testAllocatorConfig(), wallet, bus, testLogger())

	a.ReserveCapital(1.0, domain.PoolActive)
	require.NoError(t, a.SyncWithWallet(context.Background()))

	alloc := a.Allocation()
	assert.InDelta(t, 6.0, alloc.TotalSol, 1e-9)
	assert.InDelta(t, 3.6, alloc.Active.SizeSol, 1e-9)
	assert.InDelta(t, 1.0, alloc.Active.InPositionsSol, 1e-9)
}
