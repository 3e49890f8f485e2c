// Package service holds the consumers of engine output: the non-blocking
// dispatcher and the trade, dashboard and archive services behind it.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
)

// TradeHandler consumes trade events on the dispatcher goroutine.
type TradeHandler interface {
	HandleTrade(ctx context.Context, ev domain.TradeEvent)
}

// StateHandler consumes dashboard snapshots on the dispatcher goroutine.
type StateHandler interface {
	HandleState(ctx context.Context, st domain.DashboardState)
}

// DispatcherConfig sizes the dispatcher buffers.
type DispatcherConfig struct {
	TradeBuffer  int
	StateBuffer  int
	HandlerWait  time.Duration // per handler call
	DrainTimeout time.Duration // total time spent draining after Close
}

// DefaultDispatcherConfig returns the buffer sizes used in paper mode.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		TradeBuffer:  256,
		StateBuffer:  4,
		HandlerWait:  5 * time.Second,
		DrainTimeout: 10 * time.Second,
	}
}

// Dispatcher implements domain.TradeSink and domain.DashboardSink. Emits
// never block: a trade that does not fit the buffer is dropped and counted,
// and a full snapshot buffer discards its oldest snapshot.
type Dispatcher struct {
	cfg    DispatcherConfig
	trades chan domain.TradeEvent
	states chan domain.DashboardState
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	tradeHandlers []TradeHandler
	stateHandlers []StateHandler
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.TradeBuffer <= 0 {
		cfg.TradeBuffer = def.TradeBuffer
	}
	if cfg.StateBuffer <= 0 {
		cfg.StateBuffer = def.StateBuffer
	}
	if cfg.HandlerWait <= 0 {
		cfg.HandlerWait = def.HandlerWait
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	return &Dispatcher{
		cfg:    cfg,
		trades: make(chan domain.TradeEvent, cfg.TradeBuffer),
		states: make(chan domain.DashboardState, cfg.StateBuffer),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("component", "dispatcher")),
	}
}

// OnTrade registers trade handlers. Must be called before Run.
func (d *Dispatcher) OnTrade(h ...TradeHandler) { d.tradeHandlers = append(d.tradeHandlers, h...) }

// OnState registers snapshot handlers. Must be called before Run.
func (d *Dispatcher) OnState(h ...StateHandler) { d.stateHandlers = append(d.stateHandlers, h...) }

// EmitTrade implements domain.TradeSink.
func (d *Dispatcher) EmitTrade(ev domain.TradeEvent) {
	select {
	case d.trades <- ev:
	default:
		metrics.SinkDropped.WithLabelValues("trades").Inc()
		d.logger.Warn("trade buffer full, dropping event",
			slog.String("action", ev.Action),
			slog.String("market_id", ev.MarketID),
		)
	}
}

// UpdateState implements domain.DashboardSink.
func (d *Dispatcher) UpdateState(st domain.DashboardState) {
	for {
		select {
		case d.states <- st:
			return
		default:
		}
		select {
		case <-d.states:
			metrics.SinkDropped.WithLabelValues("dashboard").Inc()
		default:
		}
	}
}

// Close stops Run after it has drained everything already queued. Events
// emitted after Close are still accepted into the buffer but may not be
// delivered.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.done) })
}

// Run delivers queued events until Close is called, then drains the
// buffers within DrainTimeout. Handlers run on a context detached from
// ctx so that the final events of a shutdown still go out.
func (d *Dispatcher) Run(ctx context.Context) error {
	hctx := context.WithoutCancel(ctx)
	for {
		select {
		case <-d.done:
			d.drain(hctx)
			return nil
		case ev := <-d.trades:
			d.deliverTrade(hctx, ev)
		case st := <-d.states:
			d.deliverState(hctx, st)
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	deadline := time.Now().Add(d.cfg.DrainTimeout)
	n := 0
	for time.Now().Before(deadline) {
		select {
		case ev := <-d.trades:
			d.deliverTrade(ctx, ev)
			n++
		case st := <-d.states:
			d.deliverState(ctx, st)
			n++
		default:
			d.logger.InfoContext(ctx, "dispatcher drained", slog.Int("events", n))
			return
		}
	}
	d.logger.WarnContext(ctx, "dispatcher drain timed out",
		slog.Int("delivered", n),
		slog.Int("pending_trades", len(d.trades)),
	)
}

func (d *Dispatcher) deliverTrade(ctx context.Context, ev domain.TradeEvent) {
	for _, h := range d.tradeHandlers {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerWait)
		h.HandleTrade(cctx, ev)
		cancel()
	}
}

func (d *Dispatcher) deliverState(ctx context.Context, st domain.DashboardState) {
	for _, h := range d.stateHandlers {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.HandlerWait)
		h.HandleState(cctx, st)
		cancel()
	}
}

var (
	_ domain.TradeSink     = (*Dispatcher)(nil)
	_ domain.DashboardSink = (*Dispatcher)(nil)
)
