package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/polysniper/internal/cache/redis"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/engine"
	"github.com/alanyoungcy/polysniper/internal/notify"
)

// recentTrades bounds the in-memory history kept when no journal is
// configured.
const recentTrades = 200

// Alerter sends operator notifications.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// TradeService records trade events: every event goes to the bus and the
// trade stream, closes are journaled and alerted.
type TradeService struct {
	journal domain.TradeJournal // optional
	bus     domain.SignalBus    // optional
	alerts  Alerter             // optional
	logger  *slog.Logger

	mu     sync.Mutex
	recent []domain.Trade // newest last
}

// NewTradeService creates a TradeService. Any dependency may be nil.
func NewTradeService(journal domain.TradeJournal, bus domain.SignalBus, alerts Alerter, logger *slog.Logger) *TradeService {
	return &TradeService{
		journal: journal,
		bus:     bus,
		alerts:  alerts,
		logger:  logger.With(slog.String("component", "trade_service")),
	}
}

// HandleTrade implements TradeHandler. Failures are logged, never returned.
func (s *TradeService) HandleTrade(ctx context.Context, ev domain.TradeEvent) {
	if s.bus != nil {
		payload, err := json.Marshal(engine.NewTradePayload(ev))
		if err != nil {
			s.logger.ErrorContext(ctx, "trade_service: marshal payload", slog.String("error", err.Error()))
		} else {
			if err := s.bus.Publish(ctx, redis.ChannelTrades, payload); err != nil {
				s.logger.WarnContext(ctx, "trade_service: publish failed",
					slog.String("trade_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
			if err := s.bus.StreamAppend(ctx, redis.StreamTrades, payload); err != nil {
				s.logger.WarnContext(ctx, "trade_service: stream append failed",
					slog.String("trade_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	t, ok := domain.TradeFromEvent(ev)
	if !ok {
		return
	}
	s.remember(t)

	if s.journal != nil {
		if err := s.journal.Insert(ctx, t); err != nil {
			s.logger.WarnContext(ctx, "trade_service: journal insert failed",
				slog.String("trade_id", t.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.alerts != nil {
		if event, title, msg, ok := notify.TradeEvent(ev); ok {
			if err := s.alerts.Notify(ctx, event, title, msg); err != nil {
				s.logger.WarnContext(ctx, "trade_service: notify failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *TradeService) remember(t domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recent = append(s.recent, t)
	if over := len(s.recent) - recentTrades; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

// Recent returns up to limit closed trades, newest first. It reads the
// journal when one is configured and this process's history otherwise.
func (s *TradeService) Recent(ctx context.Context, limit int) ([]domain.Trade, error) {
	if s.journal != nil {
		trades, err := s.journal.ListRecent(ctx, domain.ListOpts{Limit: limit})
		if err != nil {
			return nil, fmt.Errorf("trade_service: list recent: %w", err)
		}
		return trades, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.recent)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]domain.Trade, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}
