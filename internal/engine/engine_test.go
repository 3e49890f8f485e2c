package engine

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/market"
	"github.com/alanyoungcy/polysniper/internal/signal"
	"github.com/alanyoungcy/polysniper/internal/strategy"
)

// The registry admits and filters against the wall clock.
var start = time.Now().Truncate(time.Second)

// fakeBooks is an in-memory feed keyed by market and side. It also
// satisfies market.Subscriber.
type fakeBooks struct {
	mu    sync.Mutex
	books map[string]map[domain.Side]domain.OrderbookState
}

func newFakeBooks() *fakeBooks {
	return &fakeBooks{books: make(map[string]map[domain.Side]domain.OrderbookState)}
}

func (f *fakeBooks) set(marketID string, up, down float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.books[marketID] = map[domain.Side]domain.OrderbookState{
		domain.SideUp:   {MarketID: marketID, Side: domain.SideUp, Bids: []domain.PriceLevel{{Price: up, Size: 1}}},
		domain.SideDown: {MarketID: marketID, Side: domain.SideDown, Bids: []domain.PriceLevel{{Price: down, Size: 1}}},
	}
}

func (f *fakeBooks) Book(marketID string, side domain.Side) (domain.OrderbookState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.books[marketID][side]
	return b, ok
}

func (f *fakeBooks) Subscribe(string, string, string)           {}
func (f *fakeBooks) UnsubscribeStale(map[string]struct{}) int { return 0 }

type fakeDiscovery struct {
	mu      sync.Mutex
	markets []domain.Market
	calls   int
}

func (d *fakeDiscovery) ListActiveMarkets(context.Context, []string) ([]domain.Market, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.markets, nil
}

type recorder struct {
	mu     sync.Mutex
	trades []domain.TradeEvent
	states []domain.DashboardState
}

func (r *recorder) EmitTrade(ev domain.TradeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, ev)
}

func (r *recorder) UpdateState(st domain.DashboardState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
}

func (r *recorder) closed() []domain.TradeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.TradeEvent
	for _, ev := range r.trades {
		if ev.Closed() {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	eng   *Engine
	books *fakeBooks
	disc  *fakeDiscovery
	reg   *market.Registry
	rec   *recorder
	clock time.Time
}

func newHarness(t *testing.T, markets ...domain.Market) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		books: newFakeBooks(),
		disc:  &fakeDiscovery{markets: markets},
		rec:   &recorder{},
		clock: start,
	}
	h.reg = market.NewRegistry(market.Config{
		Assets:          []string{"BTC"},
		RefreshInterval: time.Minute,
	}, h.disc, h.books, logger)

	cfg := DefaultConfig()
	cfg.Signal = signal.Config{SmoothingWindow: 5, VolatilityWindow: 5, MinObservations: 5, VolatilityFloor: 0.001}
	cfg.HousekeepingInterval = 0

	strat := strategy.NewMeanReversion(strategy.FixedThreshold{Lower: 0.35, Upper: 0.65}, strategy.SizeMedium)
	h.eng = New(cfg, h.books, h.reg, strat, signal.StaticVolatility(0.004), h.rec, h.rec, logger)
	h.eng.now = func() time.Time { return h.clock }

	_, err := h.reg.Refresh(context.Background(), true)
	require.NoError(t, err)
	return h
}

func (h *harness) tick() {
	h.clock = h.clock.Add(500 * time.Millisecond)
	h.eng.Tick(context.Background())
}

func btcMarket() domain.Market {
	return domain.Market{
		ID:       "m-btc",
		Asset:    "BTC",
		TokenIDs: [2]string{"up", "down"},
		EndTime:  start.Add(10 * time.Minute),
	}
}

func TestEngine_ContrarianEntryAndTakeProfit(t *testing.T) {
	h := newHarness(t, btcMarket())
	h.books.set("m-btc", 0.70, 0.30)

	for i := 0; i < 4; i++ {
		h.tick()
		assert.Empty(t, h.rec.trades, "no decision on cold buffers (tick %d)", i)
	}

	h.tick()
	require.Len(t, h.rec.trades, 1)
	open := h.rec.trades[0]
	assert.Equal(t, "SELL_MD", open.Action)
	assert.Equal(t, domain.PositionLongDown, open.Side)
	assert.Nil(t, open.PnL)

	pos := h.eng.machines["m-btc"].Position()
	assert.InDelta(t, 0.303, pos.EntryPrice, 1e-9)
	assert.InDelta(t, pos.EntryPrice+1.3*0.004, pos.TakeProfit, 1e-9)
	assert.InDelta(t, pos.EntryPrice-2.0*0.004, pos.StopLoss, 1e-9)

	h.tick()
	assert.Len(t, h.rec.trades, 1, "still inside the band")

	h.books.set("m-btc", 0.64, 0.36)
	h.tick()

	closed := h.rec.closed()
	require.Len(t, closed, 1)
	assert.Equal(t, "CLOSE DOWN", closed[0].Action)
	assert.Equal(t, domain.ExitTakeProfit, closed[0].Reason)
	require.NotNil(t, closed[0].PnL)
	assert.Greater(t, *closed[0].PnL, 0.0)

	exit := 0.36 * 0.99
	assert.InDelta(t, (exit-pos.EntryPrice)*5/pos.EntryPrice, *closed[0].PnL, 1e-9)

	st := h.eng.Stats()
	assert.Equal(t, 1, st.Trades)
	assert.Equal(t, 1, st.Wins)
	assert.InDelta(t, *closed[0].PnL, st.TotalPnL, 1e-12)
}

func TestEngine_CancellationForceClosesOnce(t *testing.T) {
	h := newHarness(t, btcMarket())
	h.books.set("m-btc", 0.70, 0.30)
	for i := 0; i < 5; i++ {
		h.tick()
	}
	require.True(t, h.eng.machines["m-btc"].IsOpen())

	// Last known quote before shutdown.
	h.books.set("m-btc", 0.695, 0.305)
	h.tick()
	require.Empty(t, h.rec.closed())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.eng.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	closed := h.rec.closed()
	require.Len(t, closed, 1)
	assert.Equal(t, "FORCE CLOSE DOWN", closed[0].Action)
	assert.Equal(t, domain.ExitForced, closed[0].Reason)
	assert.InDelta(t, 0.305*0.99, closed[0].ExitPrice, 1e-12)
	assert.False(t, h.eng.machines["m-btc"].IsOpen())

	last := h.rec.states[len(h.rec.states)-1]
	assert.Empty(t, last.Positions)
	assert.Equal(t, 1, last.TradeCount)
}

func TestEngine_MarketsProcessedInInsertionOrder(t *testing.T) {
	a := btcMarket()
	b := domain.Market{ID: "m-eth", Asset: "ETH", TokenIDs: [2]string{"eu", "ed"}, EndTime: start.Add(10 * time.Minute)}
	h := newHarness(t, b, a)
	h.books.set("m-btc", 0.5, 0.5)
	h.books.set("m-eth", 0.5, 0.5)

	h.tick()
	st := h.eng.Snapshot()
	require.Len(t, st.Markets, 2)
	assert.Equal(t, "m-eth", st.Markets[0].MarketID)
	assert.Equal(t, "m-btc", st.Markets[1].MarketID)
	assert.Equal(t, "mean_reversion", st.Strategy)
}

func TestEngine_ExpiryClosesOpenPosition(t *testing.T) {
	m := btcMarket()
	m.EndTime = start.Add(5 * time.Second)
	other := domain.Market{ID: "m-eth", Asset: "ETH", TokenIDs: [2]string{"eu", "ed"}, EndTime: start.Add(10 * time.Minute)}
	h := newHarness(t, m, other)
	h.books.set("m-btc", 0.70, 0.30)
	h.books.set("m-eth", 0.50, 0.50)

	for i := 0; i < 5; i++ {
		h.tick()
	}
	require.True(t, h.eng.machines["m-btc"].IsOpen())

	for i := 0; i < 8; i++ {
		h.tick()
	}

	closed := h.rec.closed()
	require.Len(t, closed, 1)
	assert.Equal(t, domain.ExitExpired, closed[0].Reason)
	assert.Equal(t, "CLOSE DOWN", closed[0].Action)
	_, ok := h.eng.machines["m-btc"]
	assert.False(t, ok)
}

func TestEngine_EmptyUniverseThrottlesDiscovery(t *testing.T) {
	h := newHarness(t)
	calls := h.disc.calls

	h.tick()
	assert.Equal(t, calls+1, h.disc.calls)

	h.tick()
	h.tick()
	assert.Equal(t, calls+1, h.disc.calls, "throttled by empty wait")

	h.clock = h.clock.Add(30 * time.Second)
	h.disc.markets = []domain.Market{{ID: "late", Asset: "BTC", TokenIDs: [2]string{"u", "d"}, EndTime: h.clock.Add(10 * time.Minute)}}
	h.tick()
	assert.Equal(t, calls+2, h.disc.calls)
	assert.Equal(t, 1, h.reg.Len())
}

func TestNewDashboardPayload(t *testing.T) {
	st := domain.DashboardState{
		Strategy:   "mean_reversion",
		TotalPnL:   1.5,
		TradeCount: 3,
		WinCount:   2,
		Markets:    []domain.MarketView{{MarketID: "m1", Asset: "BTC", Prob: 0.6, TimeLeft: 90 * time.Second, Velocity: 0.01}},
		Positions:  []domain.PositionView{{MarketID: "m1", Asset: "BTC", Side: domain.PositionLongDown, Size: 5, EntryPrice: 0.4, UnrealizedPnL: -0.1}},
		At:         start,
	}

	p := NewDashboardPayload(st)
	assert.Equal(t, PayloadVersion, p.Version)
	assert.Equal(t, MarketPayload{Asset: "BTC", Prob: 0.6, TimeLeftMin: 1.5, Velocity: 0.01}, p.Markets["m1"])
	assert.Equal(t, "DOWN", p.Positions["m1"].Side)
	assert.Equal(t, start.Unix(), p.Timestamp)
}

func TestStats_WinRate(t *testing.T) {
	assert.Zero(t, Stats{}.WinRate())
	assert.InDelta(t, 0.25, Stats{Trades: 4, Wins: 1}.WinRate(), 1e-12)
}
