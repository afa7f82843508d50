package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awachter/soltrader/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// historyFeed serves canned histories, newest first.
type historyFeed struct {
	histories map[string][]float64
	err       error
}

func (f *historyFeed) GetPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	return domain.PricePoint{}, domain.ErrNotFound
}

func (f *historyFeed) FetchTokenPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	return domain.PricePoint{}, domain.ErrNotFound
}

func (f *historyFeed) GetPriceHistory(ctx context.Context, mint string, n int) ([]domain.PricePoint, error) {
	if f.err != nil {
		return nil, f.err
	}
	prices, ok := f.histories[mint]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := make([]domain.PricePoint, len(prices))
	for i, p := range prices {
		out[i].PriceSol = p
	}
	return out, nil
}

func (f *historyFeed) AddToWatchList(ctx context.Context, mint string) error      { return nil }
func (f *historyFeed) RemoveFromWatchList(ctx context.Context, mint string) error { return nil }

func newMomentumFixture(histories map[string][]float64) *Momentum {
	return NewMomentum(&historyFeed{histories: histories}, 12, testLogger())
}

func TestMomentumStrengthGrading(t *testing.T) {
	m := newMomentumFixture(map[string][]float64{
		// Newest first: steady climb, every tick up, +20% net.
		"strong": {0.0012, 0.00115, 0.0011, 0.00105, 0.001},
		// Net decline.
		"weak-decline": {0.0009, 0.00095, 0.001, 0.00105, 0.001},
		// Flat net change but almost no upticks.
		"weak-chop": {0.001, 0.0011, 0.0012, 0.0013, 0.001},
		// Modest gain with mixed ticks.
		"medium": {0.00104, 0.001, 0.00102, 0.001, 0.001},
	})
	ctx := context.Background()

	sig, err := m.MomentumStrength(ctx, "strong")
	require.NoError(t, err)
	assert.Equal(t, domain.MomentumStrong, sig.Strength)

	sig, err = m.MomentumStrength(ctx, "weak-decline")
	require.NoError(t, err)
	assert.Equal(t, domain.MomentumWeak, sig.Strength)

	sig, err = m.MomentumStrength(ctx, "weak-chop")
	require.NoError(t, err)
	assert.Equal(t, domain.MomentumWeak, sig.Strength)

	sig, err = m.MomentumStrength(ctx, "medium")
	require.NoError(t, err)
	assert.Equal(t, domain.MomentumMedium, sig.Strength)
}

func TestMomentumInsufficientHistoryGradesMedium(t *testing.T) {
	m := newMomentumFixture(map[string][]float64{
		"thin": {0.001, 0.0009},
	})

	sig, err := m.MomentumStrength(context.Background(), "thin")
	require.NoError(t, err)
	assert.Equal(t, domain.MomentumMedium, sig.Strength)

	sig, err = m.MomentumStrength(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Equal(t, domain.MomentumMedium, sig.Strength)
	assert.Equal(t, "no history", sig.Reason)
}

func TestMomentumPropagatesFeedErrors(t *testing.T) {
	m := NewMomentum(&historyFeed{err: errors.New("redis down")}, 12, testLogger())
	_, err := m.MomentumStrength(context.Background(), "any")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
}

func TestShouldExitNow(t *testing.T) {
	weak := map[string][]float64{
		"fading": {0.0009, 0.00095, 0.001, 0.00105, 0.0011},
	}
	m := newMomentumFixture(weak)
	ctx := context.Background()

	stalled := domain.ExitMetrics{
		Mint:              "fading",
		PriceTicksDown:    3,
		DistanceFromHigh:  0.15,
		SecondsSinceEntry: 600,
	}

	exit, err := m.ShouldExitNow(ctx, stalled, 0.10)
	require.NoError(t, err)
	assert.True(t, exit)

	// Thick profit rides through weak momentum.
	exit, err = m.ShouldExitNow(ctx, stalled, 0.40)
	require.NoError(t, err)
	assert.False(t, exit)

	// Still near the high: no exit.
	nearHigh := stalled
	nearHigh.DistanceFromHigh = 0.05
	exit, err = m.ShouldExitNow(ctx, nearHigh, 0.10)
	require.NoError(t, err)
	assert.False(t, exit)

	// Too fresh to give up on.
	fresh := stalled
	fresh.SecondsSinceEntry = 120
	exit, err = m.ShouldExitNow(ctx, fresh, 0.10)
	require.NoError(t, err)
	assert.False(t, exit)
}

func TestShouldExitNowRequiresWeakMomentum(t *testing.T) {
	m := newMomentumFixture(map[string][]float64{
		"climbing": {0.0012, 0.00115, 0.0011, 0.00105, 0.001},
	})

	exit, err := m.ShouldExitNow(context.Background(), domain.ExitMetrics{
		Mint:              "climbing",
		PriceTicksDown:    5,
		DistanceFromHigh:  0.5,
		SecondsSinceEntry: 600,
	}, 0.10)
	require.NoError(t, err)
	assert.False(t, exit)
}
