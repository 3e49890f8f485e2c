package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/polysniper/internal/cache/redis"
	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/engine"
)

// DashboardService keeps the latest dashboard payload for the HTTP API and
// publishes every snapshot on the bus.
type DashboardService struct {
	bus    domain.SignalBus // optional
	logger *slog.Logger

	mu     sync.RWMutex
	latest *engine.DashboardPayload
}

// NewDashboardService creates a DashboardService. bus may be nil.
func NewDashboardService(bus domain.SignalBus, logger *slog.Logger) *DashboardService {
	return &DashboardService{
		bus:    bus,
		logger: logger.With(slog.String("component", "dashboard_service")),
	}
}

// HandleState implements StateHandler.
func (s *DashboardService) HandleState(ctx context.Context, st domain.DashboardState) {
	p := engine.NewDashboardPayload(st)

	s.mu.Lock()
	s.latest = &p
	s.mu.Unlock()

	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(p)
	if err != nil {
		s.logger.ErrorContext(ctx, "dashboard_service: marshal payload", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, redis.ChannelDashboard, payload); err != nil {
		s.logger.WarnContext(ctx, "dashboard_service: publish failed", slog.String("error", err.Error()))
	}
}

// Latest returns the most recent payload. ok is false before the first
// snapshot.
func (s *DashboardService) Latest() (engine.DashboardPayload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return engine.DashboardPayload{}, false
	}
	return *s.latest, true
}
