package position

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awachter/soltrader/internal/domain"
	"github.com/awachter/soltrader/internal/events"
	"github.com/awachter/soltrader/internal/router"
)

// fakeFeed serves canned price points keyed by mint. prices backs the cached
// path, fetches the forced bonding-curve path.
type fakeFeed struct {
	prices  map[string]domain.PricePoint
	fetches map[string]domain.PricePoint
	watched map[string]bool

	fetchCalls int
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		prices:  make(map[string]domain.PricePoint),
		fetches: make(map[string]domain.PricePoint),
		watched: make(map[string]bool),
	}
}

func (f *fakeFeed) GetPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	pt, ok := f.prices[mint]
	if !ok {
		return domain.PricePoint{}, domain.ErrNotFound
	}
	return pt, nil
}

func (f *fakeFeed) FetchTokenPrice(ctx context.Context, mint string) (domain.PricePoint, error) {
	f.fetchCalls++
	if pt, ok := f.fetches[mint]; ok {
		return pt, nil
	}
	return f.GetPrice(ctx, mint)
}

func (f *fakeFeed) GetPriceHistory(ctx context.Context, mint string, n int) ([]domain.PricePoint, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeFeed) AddToWatchList(ctx context.Context, mint string) error {
	f.watched[mint] = true
	return nil
}

func (f *fakeFeed) RemoveFromWatchList(ctx context.Context, mint string) error {
	delete(f.watched, mint)
	return nil
}

// fakePositionStore records persistence calls in memory.
type fakePositionStore struct {
	open     []domain.Position
	upserts  []domain.Position
	closes   []closeCall
	partials []domain.PartialCloseRecord
}

type closeCall struct {
	id     string
	price  float64
	reason domain.CloseReason
	pnl    float64
}

func (s *fakePositionStore) Upsert(ctx context.Context, pos domain.Position) error {
	s.upserts = append(s.upserts, pos)
	return nil
}

func (s *fakePositionStore) Close(ctx context.Context, id string, exitPrice float64, reason domain.CloseReason, realizedPnl float64) error {
	s.closes = append(s.closes, closeCall{id: id, price: exitPrice, reason: reason, pnl: realizedPnl})
	return nil
}

func (s *fakePositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	return domain.Position{}, domain.ErrNotFound
}

func (s *fakePositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.open, nil
}

func (s *fakePositionStore) InsertPartialClose(ctx context.Context, rec domain.PartialCloseRecord) error {
	s.partials = append(s.partials, rec)
	return nil
}

func (s *fakePositionStore) PartialClosePnl(ctx context.Context, positionID string) (float64, error) {
	return 0, nil
}

func (s *fakePositionStore) ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	return nil, nil
}

func (s *fakePositionStore) ListPartialClosesBefore(ctx context.Context, before time.Time) ([]domain.PartialCloseRecord, error) {
	return nil, nil
}

// fakeExecutor returns one scripted result for every swap.
type fakeExecutor struct {
	name   string
	result domain.SwapResult
	err    error

	calls       int
	lastInput   string
	lastOutput  string
	lastAmount  float64
	lastSlipBps int
}

func (e *fakeExecutor) Name() string { return e.name }

func (e *fakeExecutor) Quote(ctx context.Context, inputMint, outputMint string, amount float64) (*domain.SwapQuote, error) {
	return nil, domain.ErrNoRoute
}

func (e *fakeExecutor) Swap(ctx context.Context, inputMint, outputMint string, amount float64, slippageBps int) (domain.SwapResult, error) {
	e.calls++
	e.lastInput, e.lastOutput, e.lastAmount, e.lastSlipBps = inputMint, outputMint, amount, slippageBps
	return e.result, e.err
}

// fakeBalances serves on-chain balances.
type fakeBalances struct {
	sol    float64
	tokens map[string]float64
}

func (w *fakeBalances) SolBalance(ctx context.Context) (float64, error) { return w.sol, nil }

func (w *fakeBalances) TokenBalance(ctx context.Context, mint string) (float64, error) {
	return w.tokens[mint], nil
}

// fakeCapital tallies reserve and release calls per pool.
type fakeCapital struct {
	reserved map[domain.PoolType]float64
	released map[domain.PoolType]float64
}

func newFakeCapital() *fakeCapital {
	return &fakeCapital{
		reserved: make(map[domain.PoolType]float64),
		released: make(map[domain.PoolType]float64),
	}
}

func (c *fakeCapital) ReserveCapital(amountSol float64, pool domain.PoolType) {
	c.reserved[pool] += amountSol
}

func (c *fakeCapital) ReleaseCapital(amountSol float64, pool domain.PoolType) {
	c.released[pool] += amountSol
}

// managerFixture bundles the manager with every collaborator the tests poke.
type managerFixture struct {
	manager *Manager
	feed    *fakeFeed
	store   *fakePositionStore
	curve   *fakeExecutor
	agg     *fakeExecutor
	wallet  *fakeBalances
	capital *fakeCapital
	bus     *events.Bus
	events  *[]domain.Event
}

func newManagerFixture(t *testing.T, momentum domain.MomentumSource) *managerFixture {
	t.Helper()
	logger := testLogger()

	feed := newFakeFeed()
	store := &fakePositionStore{}
	curve := &fakeExecutor{name: "pumpfun"}
	agg := &fakeExecutor{name: "jupiter"}
	wallet := &fakeBalances{tokens: make(map[string]float64)}
	capital := newFakeCapital()

	bus := events.NewBus(nil, logger)
	var published []domain.Event
	bus.Subscribe(func(evt domain.Event) { published = append(published, evt) })

	rt := router.New(curve, agg, wallet, bus, router.Config{
		MaxRetries:     1,
		BackoffBase:    time.Millisecond,
		VerifyBalance:  true,
		BalanceRetries: 1,
	}, logger)

	cfg := ManagerConfig{
		GhostMinAge:       20 * time.Minute,
		GhostGracePeriod:  10 * time.Minute,
		PersistSampleRate: 1,
	}
	evaluator := NewEvaluator(testExitsConfig(), momentum, logger)
	mgr := NewManager(cfg, testExitsConfig(), feed, store, rt, wallet, capital, evaluator, bus, nil, logger)

	return &managerFixture{
		manager: mgr,
		feed:    feed,
		store:   store,
		curve:   curve,
		agg:     agg,
		wallet:  wallet,
		capital: capital,
		bus:     bus,
		events:  &published,
	}
}

// restoreWith seeds the manager from the store's open set.
func (f *managerFixture) restoreWith(t *testing.T, positions ...domain.Position) {
	t.Helper()
	f.store.open = positions
	require.NoError(t, f.manager.Restore(context.Background()))
}

func (f *managerFixture) eventsOf(name string) []domain.Event {
	var out []domain.Event
	for _, evt := range *f.events {
		if evt.Name() == name {
			out = append(out, evt)
		}
	}
	return out
}

func TestOpenTracksPosition(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.curve.result = domain.SwapResult{
		Success:      true,
		InputAmount:  1.0,
		OutputAmount: 1_000_000,
		Price:        0.001,
		Signature:    "sig-open",
	}
	f.wallet.tokens["FreshMintpump"] = 0

	pos, err := f.manager.Open(context.Background(), "FreshMintpump", "FRESH", 1.0, domain.PoolHighRisk)
	require.NoError(t, err)

	assert.Equal(t, 0.001, pos.EntryPrice)
	assert.Equal(t, 1_000_000.0, pos.Amount)
	assert.Equal(t, 1.0, pos.InitialInvestment)
	assert.Equal(t, domain.PositionStatusOpen, pos.Status)

	assert.Equal(t, 1, f.curve.calls, "bonding-curve mint routes to the curve executor")
	assert.Zero(t, f.agg.calls)
	assert.Equal(t, 1.0, f.capital.reserved[domain.PoolHighRisk])
	assert.True(t, f.feed.watched["FreshMintpump"])
	require.Len(t, f.store.upserts, 1)
	assert.Len(t, f.eventsOf("position_opened"), 1)
	assert.Len(t, f.manager.Positions(), 1)
}

func TestOpenEmptyFillRejected(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.curve.result = domain.SwapResult{Success: true, InputAmount: 1.0, OutputAmount: 0, Price: 0}

	_, err := f.manager.Open(context.Background(), "FreshMintpump", "FRESH", 1.0, domain.PoolHighRisk)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty fill")
	assert.Empty(t, f.manager.Positions())
	assert.Zero(t, f.capital.reserved[domain.PoolHighRisk])
}

func TestMonitorTickStopLossClosesPosition(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))

	f.feed.prices["TestTokenpump"] = domain.PricePoint{PriceSol: 0.0008, Timestamp: now}
	f.wallet.tokens["TestTokenpump"] = 1_000_000
	f.curve.result = domain.SwapResult{
		Success:      true,
		InputAmount:  1_000_000,
		OutputAmount: 0.8,
		Price:        0.0008,
		Signature:    "sig-close",
	}

	f.manager.MonitorTick(context.Background())

	assert.Empty(t, f.manager.Positions())
	require.Len(t, f.store.closes, 1)
	assert.Equal(t, domain.CloseReasonStopLoss, f.store.closes[0].reason)
	assert.InDelta(t, 0.8-1.0-0.00015, f.store.closes[0].pnl, 1e-9)
	assert.Equal(t, 1.0, f.capital.released[domain.PoolHighRisk])
	assert.False(t, f.feed.watched["TestTokenpump"])

	closed := f.eventsOf("position_closed")
	require.Len(t, closed, 1)
	evt := closed[0].(domain.PositionClosed)
	assert.Equal(t, domain.CloseReasonStopLoss, evt.Reason)
	assert.Equal(t, 0.0008, evt.ExitPrice)
}

func TestMonitorTickZeroBalanceRetriesWithinGrace(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	// Two minutes old: past the stop-loss grace, inside the ghost grace.
	f.restoreWith(t, *agedPosition(now, 2*time.Minute))

	// -20% trips the mid-tier stop, but the wallet holds nothing yet.
	f.feed.prices["TestTokenpump"] = domain.PricePoint{PriceSol: 0.0008, Timestamp: now}
	f.wallet.tokens["TestTokenpump"] = 0

	f.manager.MonitorTick(context.Background())

	positions := f.manager.Positions()
	require.Len(t, positions, 1, "position survives for a retry")
	assert.Equal(t, domain.PositionStatusOpen, positions[0].Status)
	assert.Empty(t, f.store.closes)
	assert.Zero(t, f.capital.released[domain.PoolHighRisk])
}

func TestMonitorTickZeroBalancePastGraceGhostCloses(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))

	f.feed.prices["TestTokenpump"] = domain.PricePoint{PriceSol: 0.0008, Timestamp: now}
	f.wallet.tokens["TestTokenpump"] = 0

	f.manager.MonitorTick(context.Background())

	assert.Empty(t, f.manager.Positions())
	require.Len(t, f.store.closes, 1)
	assert.Equal(t, domain.CloseReasonGhostPosition, f.store.closes[0].reason)
	assert.Zero(t, f.store.closes[0].price)
	// The whole entry cost plus the network fee is written off.
	assert.InDelta(t, -(1.0 + 0.00015), f.store.closes[0].pnl, 1e-9)
	assert.Equal(t, 1.0, f.capital.released[domain.PoolHighRisk])
}

func TestGhostSweepClosesDrainedPositions(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()

	old := *agedPosition(now, time.Hour)
	young := *agedPosition(now, time.Minute)
	young.ID = "pos-young"
	young.Mint = "YoungMintpump"
	f.restoreWith(t, old, young)

	f.wallet.tokens["TestTokenpump"] = 0
	f.wallet.tokens["YoungMintpump"] = 0

	f.manager.GhostSweep(context.Background())

	positions := f.manager.Positions()
	require.Len(t, positions, 1, "young position is not swept")
	assert.Equal(t, "pos-young", positions[0].ID)

	require.Len(t, f.store.closes, 1)
	assert.Equal(t, "pos-1", f.store.closes[0].id)
	assert.Equal(t, domain.CloseReasonGhostPosition, f.store.closes[0].reason)
}

func TestGhostSweepSkipsFundedPositions(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))
	f.wallet.tokens["TestTokenpump"] = 1_000_000

	f.manager.GhostSweep(context.Background())

	assert.Len(t, f.manager.Positions(), 1)
	assert.Empty(t, f.store.closes)
}

func TestMonitorTickInitialRecoveryPartialClose(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))

	// +60% triggers the initial recovery branch.
	f.feed.prices["TestTokenpump"] = domain.PricePoint{PriceSol: 0.0016, Timestamp: now}
	sold := 1.0 / 0.0016
	f.curve.result = domain.SwapResult{
		Success:      true,
		InputAmount:  sold,
		OutputAmount: sold * 0.0016,
		Price:        0.0016,
		Signature:    "sig-partial",
	}

	f.manager.MonitorTick(context.Background())

	positions := f.manager.Positions()
	require.Len(t, positions, 1)
	p := positions[0]
	assert.True(t, p.InitialRecovered)
	assert.InDelta(t, 1_000_000-sold, p.Amount, 1e-6)
	assert.InDelta(t, 0.0016*0.85, p.TrailingStop, 1e-9, "trailing stop armed after recovery")

	// Received 1 SOL for tokens whose entry cost was 0.625 SOL.
	expectedPnl := sold*0.0016 - 0.625 - 0.00015
	assert.InDelta(t, expectedPnl, p.RealizedPnl, 1e-9)

	require.Len(t, f.store.partials, 1)
	assert.Equal(t, domain.CloseReasonTakeProfit, f.store.partials[0].Reason)
	assert.Len(t, f.eventsOf("partial_close"), 1)
	assert.Empty(t, f.store.closes)

	// Partial exits trust tracked amounts. The wallet holds no tokens here,
	// so the swap only went through because the balance check was skipped.
	assert.Equal(t, 1, f.curve.calls)
}

func TestMonitorTickNoPriceTimeout(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))
	// No price ever observed, wallet still holds the tokens.
	f.wallet.tokens["TestTokenpump"] = 1_000_000
	f.curve.result = domain.SwapResult{
		Success:      true,
		InputAmount:  1_000_000,
		OutputAmount: 0.1,
		Price:        0.0000001,
	}

	f.manager.MonitorTick(context.Background())

	require.Len(t, f.store.closes, 1)
	assert.Equal(t, domain.CloseReasonDeadToken, f.store.closes[0].reason)
}

func TestMonitorTickToleratesMissingPriceWhileYoung(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Minute))

	f.manager.MonitorTick(context.Background())

	assert.Len(t, f.manager.Positions(), 1)
	assert.Empty(t, f.store.closes)
	assert.Zero(t, f.curve.calls)
}

func TestMonitorTickFetchesCurvePriceOnCacheMiss(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))
	// The cache has nothing, but the bonding curve still quotes the token.
	f.feed.fetches["TestTokenpump"] = domain.PricePoint{PriceSol: 0.0011, Timestamp: now}

	f.manager.MonitorTick(context.Background())

	assert.Equal(t, 1, f.feed.fetchCalls)
	positions := f.manager.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 0.0011, positions[0].CurrentPrice)
	assert.Empty(t, f.store.closes)
}

func TestMonitorTickSkipsCurveFetchForGraduatedMint(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	pos := *agedPosition(now, time.Minute)
	pos.Mint = "GraduatedMint"
	f.restoreWith(t, pos)

	f.manager.MonitorTick(context.Background())

	assert.Zero(t, f.feed.fetchCalls, "graduated mints are not polled on the curve")
	assert.Len(t, f.manager.Positions(), 1)
}

func TestConcurrentSweepAndMonitorCloseOnce(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))
	// No price anywhere and no tokens left: the monitor's dead-token close
	// and the ghost sweep both want to finalize this position.
	f.wallet.tokens["TestTokenpump"] = 0

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		f.manager.MonitorTick(context.Background())
	}()
	go func() {
		defer wg.Done()
		f.manager.GhostSweep(context.Background())
	}()
	wg.Wait()

	assert.Empty(t, f.manager.Positions())
	require.Len(t, f.store.closes, 1, "the position is finalized exactly once")
	assert.Equal(t, domain.CloseReasonGhostPosition, f.store.closes[0].reason)
	assert.Equal(t, 1.0, f.capital.released[domain.PoolHighRisk], "capital is released exactly once")
}

func TestPositionsSnapshotDuringMonitorTick(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	f.restoreWith(t, *agedPosition(now, time.Hour))
	f.feed.prices["TestTokenpump"] = domain.PricePoint{PriceSol: 0.0011, Timestamp: now}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			f.manager.MonitorTick(context.Background())
		}
	}()

	for reading := true; reading; {
		select {
		case <-done:
			reading = false
		default:
			for _, p := range f.manager.Positions() {
				assert.Positive(t, p.CurrentPrice)
			}
			_ = f.manager.OpenExposureSol()
		}
	}

	positions := f.manager.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, 0.0011, positions[0].CurrentPrice)
	assert.InDelta(t, 1_000_000*0.0011, f.manager.OpenExposureSol(), 1e-9)
}

func TestCloseManualUnknownID(t *testing.T) {
	f := newManagerFixture(t, nil)
	err := f.manager.CloseManual(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestOpenExposureSol(t *testing.T) {
	f := newManagerFixture(t, nil)
	now := time.Now()
	a := *agedPosition(now, time.Hour)
	b := *agedPosition(now, time.Hour)
	b.ID = "pos-2"
	b.Mint = "OtherMintpump"
	b.CurrentPrice = 0.002
	f.restoreWith(t, a, b)

	// 1,000,000 * 0.001 + 1,000,000 * 0.002
	assert.InDelta(t, 3.0, f.manager.OpenExposureSol(), 1e-9)
}
