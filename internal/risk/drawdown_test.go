package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
)

type fakeDrawdownStore struct {
	state      domain.DrawdownState
	loadErr    error
	saved      []domain.DrawdownState
	dailyStats []domain.DailyStats
}

func (s *fakeDrawdownStore) Load(ctx context.Context) (domain.DrawdownState, error) {
	return s.state, s.loadErr
}

func (s *fakeDrawdownStore) Save(ctx context.Context, st domain.DrawdownState) error {
	s.saved = append(s.saved, st)
	return nil
}

func (s *fakeDrawdownStore) SaveDailyStats(ctx context.Context, stats domain.DailyStats) error {
	s.dailyStats = append(s.dailyStats, stats)
	return nil
}

func testGuardConfig() GuardConfig {
	return GuardConfig{
		DailyLossLimit:    0.10,
		EnforcePause:      true,
		InitialCapitalSol: 10,
	}
}

func newTestGuard(t *testing.T, store *fakeDrawdownStore) (*Guard, *events.Bus) {
	t.Helper()
	bus := events.NewBus(nil, testLogger())
	g := NewGuard(testGuardConfig(), store, bus, testLogger())
	require.NoError(t, g.Restore(context.Background()))
	return g, bus
}

func TestRestoreSeedsBaselineWhenEmpty(t *testing.T) {
	store := &fakeDrawdownStore{loadErr: domain.ErrNotFound}
	g, _ := newTestGuard(t, store)

	st := g.State()
	assert.Equal(t, 10.0, st.CurrentEquity)
	assert.Equal(t, 10.0, st.PeakEquity)
	assert.Equal(t, 10.0, st.DailyStartEquity)
	assert.True(t, g.CanTrade())
}

func TestRestoreClearsExpiredPause(t *testing.T) {
	store := &fakeDrawdownStore{state: domain.DrawdownState{
		CurrentEquity:    9,
		PeakEquity:       12,
		DailyStartEquity: 10,
		Day:              time.Now().Format(dayLayout),
		IsPaused:         true,
		PauseUntil:       time.Now().Add(-time.Hour),
		PauseReason:      "daily loss 12.0% reached limit",
	}}
	g, _ := newTestGuard(t, store)

	assert.True(t, g.CanTrade(), "a pause that ran out while down does not block entries")
	st := g.State()
	assert.False(t, st.IsPaused)
	assert.Empty(t, st.PauseReason)
	assert.Equal(t, 12.0, st.PeakEquity, "peak survives the restart")
}

func TestRestoreKeepsActivePause(t *testing.T) {
	store := &fakeDrawdownStore{state: domain.DrawdownState{
		CurrentEquity:    9,
		PeakEquity:       12,
		DailyStartEquity: 10,
		Day:              time.Now().Format(dayLayout),
		IsPaused:         true,
		PauseUntil:       time.Now().Add(time.Hour),
		PauseReason:      "daily loss 12.0% reached limit",
	}}
	g, _ := newTestGuard(t, store)

	assert.False(t, g.CanTrade(), "an unexpired pause still blocks entries")
}

func TestTickMaintainsMonotonicPeak(t *testing.T) {
	store := &fakeDrawdownStore{loadErr: domain.ErrNotFound}
	g, _ := newTestGuard(t, store)
	ctx := context.Background()

	require.NoError(t, g.Tick(ctx, 12))
	require.NoError(t, g.Tick(ctx, 11))

	st := g.State()
	assert.Equal(t, 12.0, st.PeakEquity)
	assert.InDelta(t, 1.0/12.0, st.CurrentDrawdown, 1e-9)
	assert.InDelta(t, 1.0/12.0, st.MaxDrawdown, 1e-9)
	assert.False(t, st.IsPaused)
	assert.NotEmpty(t, store.saved, "every tick persists state")
}

func TestMaxDrawdownTripsBreaker(t *testing.T) {
	store := &fakeDrawdownStore{loadErr: domain.ErrNotFound}
	g, bus := newTestGuard(t, store)
	ctx := context.Background()

	var paused []domain.TradingPaused
	bus.Subscribe(func(evt domain.Event) {
		if e, ok := evt.(domain.TradingPaused); ok {
			paused = append(paused, e)
		}
	})

	require.NoError(t, g.Tick(ctx, 12))
	require.NoError(t, g.Tick(ctx, 8))

	st := g.State()
	assert.True(t, st.IsPaused)
	assert.Contains(t, st.PauseReason, "max drawdown")
	assert.False(t, g.CanTrade())
	require.Len(t, paused, 1)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), paused[0].PauseUntil, time.Minute)
}

func TestDailyLossTripsBreaker(t *testing.T) {
	store := &fakeDrawdownStore{loadErr: domain.ErrNotFound}
	g, _ := newTestGuard(t, store)
	ctx := context.Background()

	// 10.5% below the daily start, but well under the 30% peak drawdown.
	require.NoError(t, g.Tick(ctx, 8.95))

	st := g.State()
	assert.True(t, st.IsPaused)
	assert.Contains(t, st.PauseReason, "daily loss")
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), st.PauseUntil, time.Minute)
}

func TestPauseAutoResumesAfterWindow(t *testing.T) {
	store := &fakeDrawdownStore{
		state: domain.DrawdownState{
			CurrentEquity:    9,
			PeakEquity:       10,
			DailyStartEquity: 9,
			Day:              time.Now().Format("2006-01-02"),
			IsPaused:         true,
			PauseUntil:       time.Now().Add(-time.Minute),
			PauseReason:      "daily loss 12.0% reached limit",
		},
	}
	bus := events.NewBus(nil, testLogger())
	g := NewGuard(testGuardConfig(), store, bus, testLogger())
	require.NoError(t, g.Restore(context.Background()))

	var resumed int
	bus.Subscribe(func(evt domain.Event) {
		if _, ok := evt.(domain.TradingResumed); ok {
			resumed++
		}
	})

	assert.False(t, g.CanTrade())
	require.NoError(t, g.Tick(context.Background(), 9))

	assert.True(t, g.CanTrade())
	assert.Equal(t, 1, resumed)
	assert.Empty(t, g.State().PauseReason)
}

func TestOperatorResume(t *testing.T) {
	store := &fakeDrawdownStore{loadErr: domain.ErrNotFound}
	g, _ := newTestGuard(t, store)
	ctx := context.Background()

	require.NoError(t, g.Tick(ctx, 6))
	require.False(t, g.CanTrade())

	g.Resume(ctx)
	assert.True(t, g.CanTrade())
}

func TestCanTradeIgnoresPauseWhenNotEnforced(t *testing.T) {
	store := &fakeDrawdownStore{loadErr: domain.ErrNotFound}
	bus := events.NewBus(nil, testLogger())
	cfg := testGuardConfig()
	cfg.EnforcePause = false
	g := NewGuard(cfg, store, bus, testLogger())
	require.NoError(t, g.Restore(context.Background()))

	require.NoError(t, g.Tick(context.Background(), 6))
	assert.True(t, g.State().IsPaused, "state still tracks the trip")
	assert.True(t, g.CanTrade(), "but entries are not blocked")
}
