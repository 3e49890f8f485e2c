// Package engine runs the fixed-interval decision loop over the registered
// markets: it feeds the signal filters, drives each market's position state
// machine and reports trades and dashboard snapshots to its sinks.
package engine

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/market"
	"github.com/alanyoungcy/polysniper/internal/metrics"
	"github.com/alanyoungcy/polysniper/internal/signal"
	"github.com/alanyoungcy/polysniper/internal/strategy"
)

// Books is the read side of the market-data feed.
type Books interface {
	Book(marketID string, side domain.Side) (domain.OrderbookState, bool)
}

// Universe is the set of tradable markets.
type Universe interface {
	Refresh(ctx context.Context, force bool) (market.RefreshResult, error)
	Expire(now time.Time) []domain.Market
	Markets() []domain.Market
	Len() int
}

// HousekeepingHook runs after each housekeeping pass and once at shutdown.
type HousekeepingHook func(ctx context.Context) error

// Config controls engine timing.
type Config struct {
	TickInterval         time.Duration
	RefreshInterval      time.Duration
	HousekeepingInterval time.Duration
	// EmptyWait throttles discovery while no market is tradable.
	EmptyWait time.Duration
	// ResetSmoothing clears every smoothing window during housekeeping.
	ResetSmoothing bool
	// ShutdownTimeout bounds the final housekeeping hooks.
	ShutdownTimeout time.Duration

	Signal  signal.Config
	Machine strategy.MachineConfig
}

// DefaultConfig returns the paper-trading engine configuration.
func DefaultConfig() Config {
	return Config{
		TickInterval:         500 * time.Millisecond,
		RefreshInterval:      time.Minute,
		HousekeepingInterval: 25 * time.Minute,
		EmptyWait:            30 * time.Second,
		ShutdownTimeout:      15 * time.Second,
		Signal:               signal.DefaultConfig(),
		Machine:              strategy.DefaultMachineConfig(),
	}
}

// Stats are the running totals of realized trades.
type Stats struct {
	TotalPnL float64
	Trades   int
	Wins     int
}

// WinRate returns the fraction of winning trades.
func (s Stats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades)
}

// Engine is the trading loop. One goroutine runs ticks; a second refreshes
// discovery. All per-market state is guarded by mu.
type Engine struct {
	cfg       Config
	books     Books
	universe  Universe
	strat     strategy.Strategy
	vol       signal.VolatilitySource
	trades    domain.TradeSink
	dashboard domain.DashboardSink
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string

	mu       sync.RWMutex
	filters  map[string]*signal.Filter
	machines map[string]*strategy.PositionMachine
	quotes   map[string]strategy.Quote // last known quote per market
	stats    Stats

	hooks            []HousekeepingHook
	hookWG           sync.WaitGroup
	lastHousekeeping time.Time
	nextEmptyRefresh time.Time
}

// New creates an Engine.
func New(
	cfg Config,
	books Books,
	universe Universe,
	strat strategy.Strategy,
	vol signal.VolatilitySource,
	trades domain.TradeSink,
	dashboard domain.DashboardSink,
	logger *slog.Logger,
) *Engine {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	return &Engine{
		cfg:       cfg,
		books:     books,
		universe:  universe,
		strat:     strat,
		vol:       vol,
		trades:    trades,
		dashboard: dashboard,
		logger:    logger.With(slog.String("component", "engine")),
		now:       time.Now,
		newID:     uuid.NewString,
		filters:   make(map[string]*signal.Filter),
		machines:  make(map[string]*strategy.PositionMachine),
		quotes:    make(map[string]strategy.Quote),
	}
}

// OnHousekeeping registers a hook run after every housekeeping pass.
// Must be called before Run.
func (e *Engine) OnHousekeeping(h HousekeepingHook) {
	e.hooks = append(e.hooks, h)
}

// Run refreshes discovery, then ticks until ctx is cancelled. On
// cancellation every open position is force-closed at its last known quote
// and the final snapshot is published before Run returns ctx.Err().
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "engine starting",
		slog.String("strategy", e.strat.Name()),
		slog.Duration("tick", e.cfg.TickInterval),
	)
	e.refresh(ctx, true)
	e.lastHousekeeping = e.now()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.discoveryLoop(ctx)
	}()

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			e.shutdown(ctx)
			return ctx.Err()
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

func (e *Engine) discoveryLoop(ctx context.Context) {
	if e.cfg.RefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refresh(ctx, false)
		}
	}
}

// Tick runs one decision pass over every registered market in insertion
// order.
func (e *Engine) Tick(ctx context.Context) {
	now := e.now()
	metrics.Ticks.Inc()

	var events []domain.TradeEvent

	expired := e.universe.Expire(now)
	markets := e.universe.Markets()

	e.mu.Lock()
	for _, m := range expired {
		e.logger.InfoContext(ctx, "market expired", slog.String("market_id", m.ID), slog.String("asset", m.Asset))
		events = append(events, e.retireLocked(m.ID, domain.ExitExpired, now)...)
	}
	if len(markets) == 0 {
		events = append(events, e.closeAllLocked(domain.ExitExpired, now)...)
	}
	for _, m := range markets {
		events = append(events, e.stepLocked(m, now)...)
	}
	e.mu.Unlock()

	e.emit(events)

	if len(markets) == 0 && !now.Before(e.nextEmptyRefresh) {
		e.logger.InfoContext(ctx, "no tradable markets, refreshing discovery")
		e.refresh(ctx, true)
		if e.universe.Len() == 0 {
			e.nextEmptyRefresh = now.Add(e.cfg.EmptyWait)
			e.logger.WarnContext(ctx, "discovery still empty",
				slog.String("error", domain.ErrNoMarkets.Error()),
				slog.Duration("retry_in", e.cfg.EmptyWait),
			)
		}
	}

	e.publish(now)

	if e.cfg.HousekeepingInterval > 0 && now.Sub(e.lastHousekeeping) >= e.cfg.HousekeepingInterval {
		e.lastHousekeeping = now
		e.housekeep(ctx)
	}
}

// Snapshot returns the current dashboard state.
func (e *Engine) Snapshot() domain.DashboardState {
	now := e.now()
	markets := e.universe.Markets()

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshotLocked(markets, now)
}

// Stats returns the running totals.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// stepLocked processes one market. Caller must hold e.mu.
func (e *Engine) stepLocked(m domain.Market, now time.Time) []domain.TradeEvent {
	q, fresh := e.quote(m.ID)
	if !fresh {
		last, ok := e.quotes[m.ID]
		if !ok {
			return nil
		}
		q = last
	}

	f := e.filterLocked(m.ID)
	if fresh {
		vol, ok := e.vol.Volatility(m.ID, q.Up)
		f.Observe(q.Up, vol, ok)
		e.quotes[m.ID] = q
	}
	mach := e.machineLocked(m)

	if mach.IsOpen() {
		if fill, ok := mach.CheckExit(q, now); ok {
			return []domain.TradeEvent{e.recordLocked(m.ID, m.Asset, fill)}
		}
		act := e.strat.Act(e.stateLocked(m, q, f, mach, now))
		if fill, ok := mach.CloseOnSignal(act, q, now); ok {
			return []domain.TradeEvent{e.recordLocked(m.ID, m.Asset, fill)}
		}
		return nil
	}

	act := e.strat.Act(e.stateLocked(m, q, f, mach, now))
	avgVol, ready := f.AvgVolatility()
	if fill, ok := mach.TryEnter(act, q, avgVol, ready && fresh, now); ok {
		ev := e.recordLocked(m.ID, m.Asset, fill)
		pos := mach.Position()
		e.logger.Info("position opened",
			slog.String("market_id", m.ID),
			slog.String("asset", m.Asset),
			slog.String("side", string(pos.Side)),
			slog.Float64("entry_price", pos.EntryPrice),
			slog.Float64("take_profit", pos.TakeProfit),
			slog.Float64("stop_loss", pos.StopLoss),
		)
		return []domain.TradeEvent{ev}
	}
	return nil
}

func (e *Engine) stateLocked(m domain.Market, q strategy.Quote, f *signal.Filter, mach *strategy.PositionMachine, now time.Time) strategy.MarketState {
	pos := mach.Position()
	s := strategy.MarketState{
		MarketID:     m.ID,
		Asset:        m.Asset,
		Prob:         q.Up,
		Ready:        f.Ready(),
		Velocity:     f.Velocity(),
		TimeLeft:     m.TimeLeft(now),
		PositionSide: pos.Side,
	}
	s.Smoothed, _ = f.Smoothed()
	s.SlowMean, _ = f.SlowMean()
	s.Volatility, _ = f.AvgVolatility()
	if pos.IsOpen() {
		s.PositionPnL = pos.PnLAt(q.Value(pos.Side))
	}
	return s
}

// quote reads the current UP and DOWN mids. fresh is false when the UP book
// has no price.
func (e *Engine) quote(marketID string) (strategy.Quote, bool) {
	up, ok := e.books.Book(marketID, domain.SideUp)
	if !ok {
		return strategy.Quote{}, false
	}
	upMid, ok := up.MidPrice()
	if !ok {
		return strategy.Quote{}, false
	}
	q := strategy.Quote{Up: upMid}
	if down, ok := e.books.Book(marketID, domain.SideDown); ok {
		if mid, ok := down.MidPrice(); ok {
			q.Down, q.HasDown = mid, true
		}
	}
	return q, true
}

func (e *Engine) filterLocked(marketID string) *signal.Filter {
	f, ok := e.filters[marketID]
	if !ok {
		f = signal.NewFilter(e.cfg.Signal)
		e.filters[marketID] = f
	}
	return f
}

func (e *Engine) machineLocked(m domain.Market) *strategy.PositionMachine {
	mach, ok := e.machines[m.ID]
	if !ok {
		mach = strategy.NewPositionMachine(e.cfg.Machine, m.ID, m.Asset)
		e.machines[m.ID] = mach
	}
	return mach
}

// recordLocked turns a fill into a trade event and updates the totals for
// closing fills.
func (e *Engine) recordLocked(marketID, asset string, f strategy.Fill) domain.TradeEvent {
	ev := domain.TradeEvent{
		ID:         e.newID(),
		Action:     f.Action,
		MarketID:   marketID,
		Asset:      asset,
		Side:       f.Side,
		Size:       f.Size,
		EntryPrice: f.EntryPrice,
		ExitPrice:  f.ExitPrice,
		Reason:     f.Reason,
		OpenedAt:   f.OpenedAt,
		Time:       f.At,
	}
	if !f.Closed {
		return ev
	}

	pnl := f.PnL
	ev.PnL = &pnl
	e.stats.TotalPnL += pnl
	e.stats.Trades++
	if f.Win() {
		e.stats.Wins++
	}
	metrics.Trades.WithLabelValues(string(f.Reason)).Inc()
	metrics.RealizedPnL.Set(e.stats.TotalPnL)

	e.logger.Info("position closed",
		slog.String("market_id", marketID),
		slog.String("asset", asset),
		slog.String("action", f.Action),
		slog.String("reason", string(f.Reason)),
		slog.Float64("exit_price", f.ExitPrice),
		slog.Float64("pnl", pnl),
		slog.Float64("total_pnl", e.stats.TotalPnL),
	)
	return ev
}

// retireLocked closes any open position on a market at its last known quote
// and drops all per-market state.
func (e *Engine) retireLocked(marketID string, reason domain.ExitReason, now time.Time) []domain.TradeEvent {
	var events []domain.TradeEvent
	if mach, ok := e.machines[marketID]; ok {
		if q, ok := e.quotes[marketID]; ok {
			if fill, ok := mach.ForceClose(q, reason, now); ok {
				events = append(events, e.recordLocked(marketID, e.assetOf(mach), fill))
			}
		}
	}
	delete(e.machines, marketID)
	delete(e.filters, marketID)
	delete(e.quotes, marketID)
	return events
}

// closeAllLocked closes every open position at its last known quote.
func (e *Engine) closeAllLocked(reason domain.ExitReason, now time.Time) []domain.TradeEvent {
	var events []domain.TradeEvent
	for id, mach := range e.machines {
		q, ok := e.quotes[id]
		if !ok {
			continue
		}
		if fill, ok := mach.ForceClose(q, reason, now); ok {
			events = append(events, e.recordLocked(id, e.assetOf(mach), fill))
		}
	}
	return events
}

func (e *Engine) assetOf(mach *strategy.PositionMachine) string {
	return mach.Position().Asset
}

// refresh consults discovery and retires markets it dropped. Failures keep
// the current set.
func (e *Engine) refresh(ctx context.Context, force bool) {
	res, err := e.universe.Refresh(ctx, force)
	if err != nil {
		e.logger.WarnContext(ctx, "market discovery failed, keeping current set",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(res.Removed) == 0 {
		return
	}

	now := e.now()
	var events []domain.TradeEvent
	e.mu.Lock()
	for _, m := range res.Removed {
		events = append(events, e.retireLocked(m.ID, domain.ExitExpired, now)...)
	}
	e.mu.Unlock()
	e.emit(events)
}

func (e *Engine) emit(events []domain.TradeEvent) {
	for _, ev := range events {
		e.trades.EmitTrade(ev)
	}
}

func (e *Engine) publish(now time.Time) {
	markets := e.universe.Markets()

	e.mu.RLock()
	st := e.snapshotLocked(markets, now)
	e.mu.RUnlock()

	metrics.OpenPositions.Set(float64(len(st.Positions)))
	e.dashboard.UpdateState(st)
}

func (e *Engine) snapshotLocked(markets []domain.Market, now time.Time) domain.DashboardState {
	st := domain.DashboardState{
		Strategy:   e.strat.Name(),
		TotalPnL:   e.stats.TotalPnL,
		TradeCount: e.stats.Trades,
		WinCount:   e.stats.Wins,
		At:         now,
	}
	for _, m := range markets {
		q := e.quotes[m.ID]
		view := domain.MarketView{
			MarketID: m.ID,
			Asset:    m.Asset,
			Prob:     q.Up,
			TimeLeft: m.TimeLeft(now),
		}
		if f, ok := e.filters[m.ID]; ok {
			view.Velocity = f.Velocity()
		}
		st.Markets = append(st.Markets, view)

		mach, ok := e.machines[m.ID]
		if !ok || !mach.IsOpen() {
			continue
		}
		pos := mach.Position()
		st.Positions = append(st.Positions, domain.PositionView{
			MarketID:      m.ID,
			Asset:         m.Asset,
			Side:          pos.Side,
			Size:          pos.Size,
			EntryPrice:    pos.EntryPrice,
			UnrealizedPnL: pos.PnLAt(q.Value(pos.Side)),
		})
	}
	return st
}

// housekeep prunes state for unregistered markets, optionally resets the
// smoothing windows, forces a GC and starts the hooks in the background.
func (e *Engine) housekeep(ctx context.Context) {
	keep := make(map[string]struct{})
	for _, m := range e.universe.Markets() {
		keep[m.ID] = struct{}{}
	}

	e.mu.Lock()
	pruned := 0
	for id := range e.filters {
		if _, ok := keep[id]; !ok {
			delete(e.filters, id)
			delete(e.quotes, id)
			pruned++
		}
	}
	for id, mach := range e.machines {
		if _, ok := keep[id]; !ok && !mach.IsOpen() {
			delete(e.machines, id)
		}
	}
	if e.cfg.ResetSmoothing {
		for _, f := range e.filters {
			f.ResetSmoothing()
		}
	}
	e.mu.Unlock()

	if fv, ok := e.vol.(interface{ Forget(map[string]struct{}) }); ok {
		fv.Forget(keep)
	}
	runtime.GC()

	e.logger.InfoContext(ctx, "housekeeping complete",
		slog.Int("pruned", pruned),
		slog.Int("markets", len(keep)),
		slog.Bool("reset_smoothing", e.cfg.ResetSmoothing),
	)

	if len(e.hooks) == 0 {
		return
	}
	e.hookWG.Add(1)
	go func() {
		defer e.hookWG.Done()
		e.runHooks(ctx)
	}()
}

func (e *Engine) runHooks(ctx context.Context) {
	for _, h := range e.hooks {
		if err := h(ctx); err != nil {
			e.logger.WarnContext(ctx, "housekeeping hook failed", slog.String("error", err.Error()))
		}
	}
}

// shutdown force-closes every open position, publishes the final snapshot
// and runs the hooks one last time on a detached context.
func (e *Engine) shutdown(ctx context.Context) {
	now := e.now()

	e.mu.Lock()
	events := e.closeAllLocked(domain.ExitForced, now)
	e.mu.Unlock()

	e.emit(events)
	e.publish(now)

	e.hookWG.Wait()
	if len(e.hooks) > 0 {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ShutdownTimeout)
		e.runHooks(hctx)
		cancel()
	}

	st := e.Stats()
	e.logger.Info("engine stopped",
		slog.Int("force_closed", len(events)),
		slog.Float64("total_pnl", st.TotalPnL),
		slog.Int("trades", st.Trades),
		slog.Float64("win_rate", st.WinRate()),
	)
}
