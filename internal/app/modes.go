package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/polysniper/internal/cache/redis"
	"github.com/alanyoungcy/polysniper/internal/config"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/engine"
	"github.com/alanyoungcy/polysniper/internal/feed"
	"github.com/alanyoungcy/polysniper/internal/market"
	"github.com/alanyoungcy/polysniper/internal/platform/polymarket"
	"github.com/alanyoungcy/polysniper/internal/server"
	"github.com/alanyoungcy/polysniper/internal/server/handler"
	"github.com/alanyoungcy/polysniper/internal/server/ws"
	"github.com/alanyoungcy/polysniper/internal/service"
	"github.com/alanyoungcy/polysniper/internal/signal"
	"github.com/alanyoungcy/polysniper/internal/strategy"
)

// paperLockKey guards against two paper engines sharing one Redis.
const paperLockKey = "polysniper:paper"

// PaperMode runs discovery, the feed, the trading engine and its sinks, and
// the API server until ctx is cancelled. The engine force-closes open
// positions on the way out and the dispatcher drains those events before
// PaperMode returns.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	if deps.Locker != nil {
		lease, err := deps.Locker.Acquire(ctx, paperLockKey, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return fmt.Errorf("app: paper lock: %w", err)
		}
		defer func() {
			if err := lease.Release(); err != nil {
				a.logger.Warn("release paper lock failed", slog.String("error", err.Error()))
			}
		}()
		return a.runPaper(ctx, deps, lease)
	}
	return a.runPaper(ctx, deps, nil)
}

func (a *App) runPaper(ctx context.Context, deps *Dependencies, lease *redis.Lease) error {
	strat, err := buildStrategy(a.cfg.Trading)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	fc := polymarket.NewFeedClient(feedConfig(a.cfg), a.logger)
	gamma := polymarket.NewGammaClient(gammaConfig(a.cfg), a.logger)
	registry := market.NewRegistry(registryConfig(a.cfg), gamma, fc, a.logger)

	var alerts service.Alerter
	if deps.Notifier != nil {
		alerts = deps.Notifier
	}
	trades := service.NewTradeService(deps.Journal, deps.Bus, alerts, a.logger)
	dashboard := service.NewDashboardService(deps.Bus, a.logger)

	disp := service.NewDispatcher(service.DefaultDispatcherConfig(), a.logger)
	disp.OnTrade(trades)
	disp.OnState(dashboard)

	eng := engine.New(engineConfig(a.cfg), fc, registry, strat, buildVolatility(a.cfg.Signal), disp, disp, a.logger)
	if deps.Journal != nil && deps.Blob != nil {
		archiver := service.NewArchiver(deps.Journal, deps.Blob, time.Now(), a.logger)
		eng.OnHousekeeping(archiver.Run)
	}

	g, gctx := errgroup.WithContext(ctx)

	if lease != nil {
		g.Go(func() error { return lease.Keep(gctx) })
	}
	a.startMirror(gctx, g, fc, deps)
	g.Go(func() error { return fc.Run(gctx) })
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error {
		defer disp.Close()
		return eng.Run(gctx)
	})

	if a.cfg.Server.Enabled {
		hub := ws.NewHub(deps.Bus, snapshotFunc(dashboard), a.logger, ws.Config{
			Mode:         a.cfg.Mode,
			StrategyName: strat.Name(),
			Channels:     []string{redis.ChannelDashboard, redis.ChannelTrades},
		})
		srv := server.NewServer(serverConfig(a.cfg), server.Handlers{
			Health:  handler.NewHealthHandler(time.Now(), a.logger, deps.Probes...),
			Engine:  handler.NewEngineHandler(dashboard, trades, a.logger),
			Markets: handler.NewMarketHandler(registry),
		}, hub, a.logger)
		g.Go(func() error { return hub.Run(gctx) })
		g.Go(func() error { return srv.Run(gctx) })
	}

	return a.wait(ctx, g)
}

// MonitorMode runs discovery, the feed and the orderbook mirror without
// trading. It is useful for checking venue connectivity.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	fc := polymarket.NewFeedClient(feedConfig(a.cfg), a.logger)
	gamma := polymarket.NewGammaClient(gammaConfig(a.cfg), a.logger)
	registry := market.NewRegistry(registryConfig(a.cfg), gamma, fc, a.logger)

	var updates atomic.Int64
	fc.OnUpdate(func(domain.OrderbookState) { updates.Add(1) })

	g, gctx := errgroup.WithContext(ctx)
	a.startMirror(gctx, g, fc, deps)
	g.Go(func() error { return fc.Run(gctx) })
	g.Go(func() error { return a.monitorLoop(gctx, registry, fc, &updates) })

	if a.cfg.Server.Enabled {
		srv := server.NewServer(serverConfig(a.cfg), server.Handlers{
			Health:  handler.NewHealthHandler(time.Now(), a.logger, deps.Probes...),
			Markets: handler.NewMarketHandler(registry),
		}, nil, a.logger)
		g.Go(func() error { return srv.Run(gctx) })
	}

	return a.wait(ctx, g)
}

// monitorLoop keeps the registry fresh and logs feed throughput once per
// refresh interval.
func (a *App) monitorLoop(ctx context.Context, registry *market.Registry, fc *polymarket.FeedClient, updates *atomic.Int64) error {
	refresh := func(force bool) {
		registry.Expire(time.Now())
		if _, err := registry.Refresh(ctx, force); err != nil {
			a.logger.WarnContext(ctx, "discovery refresh failed", slog.String("error", err.Error()))
		}
	}
	refresh(true)

	ticker := time.NewTicker(a.cfg.Discovery.RefreshInterval.Duration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			refresh(false)
			a.logger.InfoContext(ctx, "monitor",
				slog.String("feed_state", fc.State().String()),
				slog.Int("markets", registry.Len()),
				slog.Int("tokens", len(fc.Tokens())),
				slog.Int64("book_updates", updates.Swap(0)),
			)
		}
	}
}

// startMirror attaches the orderbook mirror to the feed when enabled.
func (a *App) startMirror(ctx context.Context, g *errgroup.Group, fc *polymarket.FeedClient, deps *Dependencies) {
	if !a.cfg.Feed.Mirror || deps.BookCache == nil {
		return
	}
	m := feed.NewMirror(deps.BookCache, a.logger)
	fc.OnUpdate(m.Observe)
	g.Go(func() error { return m.Run(ctx) })
}

// wait collapses a shutdown triggered by ctx into ctx.Err() so callers can
// tell a clean stop from a component failure.
func (a *App) wait(ctx context.Context, g *errgroup.Group) error {
	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return ctx.Err()
	}
	return err
}

func snapshotFunc(d *service.DashboardService) ws.SnapshotFunc {
	return func() ([]byte, bool) {
		p, ok := d.Latest()
		if !ok {
			return nil, false
		}
		data, err := json.Marshal(p)
		return data, err == nil
	}
}

// buildStrategy resolves the configured strategy and threshold policy.
func buildStrategy(cfg config.TradingConfig) (strategy.Strategy, error) {
	var policy strategy.ThresholdPolicy
	switch cfg.Threshold.Kind {
	case "relative":
		policy = strategy.RelativeThreshold{Offset: cfg.Threshold.Offset, Min: cfg.Threshold.Min, Max: cfg.Threshold.Max}
	default:
		policy = strategy.FixedThreshold{Lower: cfg.Threshold.Lower, Upper: cfg.Threshold.Upper}
	}
	return strategy.DefaultRegistry(policy, cfg.Size).Get(cfg.Strategy)
}

func buildVolatility(cfg config.SignalConfig) signal.VolatilitySource {
	if cfg.Volatility == "static" {
		return signal.StaticVolatility(cfg.StaticVolatility)
	}
	return signal.NewChangeVolatility()
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		TickInterval:         cfg.Engine.TickInterval.Duration,
		RefreshInterval:      cfg.Discovery.RefreshInterval.Duration,
		HousekeepingInterval: cfg.Engine.HousekeepingInterval.Duration,
		EmptyWait:            cfg.Engine.EmptyWait.Duration,
		ResetSmoothing:       cfg.Engine.ResetSmoothing,
		ShutdownTimeout:      cfg.Engine.ShutdownTimeout.Duration,
		Signal: signal.Config{
			SmoothingWindow:  cfg.Signal.SmoothingWindow,
			VolatilityWindow: cfg.Signal.VolatilityWindow,
			MinObservations:  cfg.Signal.MinObservations,
			VolatilityFloor:  cfg.Signal.VolatilityFloor,
		},
		Machine: strategy.MachineConfig{
			EntryFee:    cfg.Trading.EntryFee,
			ExitFee:     cfg.Trading.ExitFee,
			TakeProfitK: cfg.Trading.TakeProfitK,
			StopLossK:   cfg.Trading.StopLossK,
			MaxHold:     cfg.Trading.MaxHold.Duration,
			Cooldown:    cfg.Trading.Cooldown.Duration,
			MinHold:     cfg.Trading.MinHold.Duration,
			TradeSize:   cfg.Trading.TradeSize,
		},
	}
}

func feedConfig(cfg *config.Config) polymarket.FeedConfig {
	return polymarket.FeedConfig{
		URL:              cfg.Polymarket.WsURL,
		PollInterval:     cfg.Feed.PollInterval.Duration,
		IdleWait:         cfg.Feed.IdleWait.Duration,
		ReconnectDelay:   cfg.Feed.ReconnectDelay.Duration,
		MaxParseFailures: cfg.Feed.MaxParseFailures,
	}
}

func gammaConfig(cfg *config.Config) polymarket.GammaConfig {
	return polymarket.GammaConfig{
		BaseURL:           cfg.Polymarket.GammaHost,
		RequestsPerSecond: cfg.Discovery.RequestsPerSecond,
		Burst:             cfg.Discovery.Burst,
		BreakerFailures:   uint32(max(cfg.Discovery.BreakerFailures, 0)),
		BreakerCooldown:   cfg.Discovery.BreakerCooldown.Duration,
		Timeout:           cfg.Discovery.Timeout.Duration,
	}
}

func registryConfig(cfg *config.Config) market.Config {
	return market.Config{
		Assets:          cfg.Discovery.Assets,
		RefreshInterval: cfg.Discovery.RefreshInterval.Duration,
		MinLifetime:     cfg.Discovery.MinLifetime.Duration,
	}
}

func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		RateBurst:   cfg.Server.RateBurst,
	}
}
