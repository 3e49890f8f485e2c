// Package market reconciles the externally discovered set of tradable
// markets against the in-memory state shared by the feed and the engine.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
)

// Subscriber is the part of the feed the registry drives.
type Subscriber interface {
	Subscribe(marketID, tokenUp, tokenDown string)
	UnsubscribeStale(active map[string]struct{}) int
}

// Config controls discovery cadence and admission.
type Config struct {
	Assets          []string
	RefreshInterval time.Duration
	MinLifetime     time.Duration
}

// RefreshResult describes what a Refresh changed.
type RefreshResult struct {
	Added   []domain.Market
	Removed []domain.Market
	// Skipped is true when the call fell inside the refresh interval and
	// discovery was not consulted.
	Skipped bool
}

// Registry holds the current tradable markets in insertion order.
type Registry struct {
	cfg       Config
	discovery domain.MarketDiscovery
	feed      Subscriber
	logger    *slog.Logger
	now       func() time.Time

	mu          sync.RWMutex
	order       []string
	markets     map[string]domain.Market
	lastRefresh time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(cfg Config, discovery domain.MarketDiscovery, feed Subscriber, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:       cfg,
		discovery: discovery,
		feed:      feed,
		logger:    logger.With(slog.String("component", "market_registry")),
		now:       time.Now,
		markets:   make(map[string]domain.Market),
	}
}

// Refresh asks discovery for the current market list and reconciles it.
// Unless force is set, calls within RefreshInterval of the previous attempt
// return immediately. On a discovery error the registered set is left
// unchanged and the error is returned.
//
// New markets with less than MinLifetime remaining are not admitted.
// Registered markets missing from the discovery result are removed, and the
// feed is told to drop everything that is no longer registered.
func (r *Registry) Refresh(ctx context.Context, force bool) (RefreshResult, error) {
	now := r.now()

	r.mu.Lock()
	if !force && !r.lastRefresh.IsZero() && now.Sub(r.lastRefresh) < r.cfg.RefreshInterval {
		r.mu.Unlock()
		return RefreshResult{Skipped: true}, nil
	}
	r.lastRefresh = now
	r.mu.Unlock()

	found, err := r.discovery.ListActiveMarkets(ctx, r.cfg.Assets)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("market: refresh: %w", err)
	}

	seen := make(map[string]domain.Market, len(found))
	for _, m := range found {
		if m.Expired(now) {
			continue
		}
		seen[m.ID] = m
	}

	var res RefreshResult

	r.mu.Lock()
	kept := r.order[:0:0]
	for _, id := range r.order {
		if _, ok := seen[id]; ok {
			kept = append(kept, id)
			continue
		}
		res.Removed = append(res.Removed, r.markets[id])
		delete(r.markets, id)
	}
	r.order = kept

	for _, m := range found {
		if _, ok := seen[m.ID]; !ok {
			continue
		}
		if _, exists := r.markets[m.ID]; exists {
			continue
		}
		if m.TimeLeft(now) < r.cfg.MinLifetime {
			continue
		}
		r.markets[m.ID] = m
		r.order = append(r.order, m.ID)
		res.Added = append(res.Added, m)
	}

	active := make(map[string]struct{}, len(r.order))
	for _, id := range r.order {
		active[id] = struct{}{}
	}
	count := len(r.order)
	r.mu.Unlock()

	for _, m := range res.Added {
		r.feed.Subscribe(m.ID, m.Token(domain.SideUp), m.Token(domain.SideDown))
	}
	r.feed.UnsubscribeStale(active)
	metrics.ActiveMarkets.Set(float64(count))

	if len(res.Added) > 0 || len(res.Removed) > 0 {
		r.logger.InfoContext(ctx, "markets refreshed",
			slog.Int("added", len(res.Added)),
			slog.Int("removed", len(res.Removed)),
			slog.Int("active", count),
		)
	}
	return res, nil
}

// Expire retires every market whose end time is not after now and returns
// them in insertion order.
func (r *Registry) Expire(now time.Time) []domain.Market {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.Market
	kept := r.order[:0:0]
	for _, id := range r.order {
		m := r.markets[id]
		if m.Expired(now) {
			expired = append(expired, m)
			delete(r.markets, id)
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	if len(expired) > 0 {
		metrics.ActiveMarkets.Set(float64(len(r.order)))
	}
	return expired
}

// Markets returns the registered markets in insertion order.
func (r *Registry) Markets() []domain.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Market, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.markets[id])
	}
	return out
}

// Get returns a registered market by id.
func (r *Registry) Get(id string) (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[id]
	return m, ok
}

// Len returns the number of registered markets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
