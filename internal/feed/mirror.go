// Package feed bridges the live orderbook feed to its out-of-process
// consumers.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

const writeTimeout = 2 * time.Second

// Mirror copies every book update into an OrderbookCache. Observe runs on
// the feed goroutine and only records the book; Run performs the writes,
// coalescing bursts so that each token is written once per pass with its
// newest state.
type Mirror struct {
	cache  domain.OrderbookCache
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]domain.OrderbookState
	wake    chan struct{}
}

// NewMirror creates a Mirror writing to cache.
func NewMirror(cache domain.OrderbookCache, logger *slog.Logger) *Mirror {
	return &Mirror{
		cache:   cache,
		logger:  logger.With(slog.String("component", "orderbook_mirror")),
		pending: make(map[string]domain.OrderbookState),
		wake:    make(chan struct{}, 1),
	}
}

// Observe has the signature of a feed update handler.
func (m *Mirror) Observe(book domain.OrderbookState) {
	if book.TokenID == "" {
		return
	}
	m.mu.Lock()
	m.pending[book.TokenID] = book
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run writes pending books until ctx is cancelled.
func (m *Mirror) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.wake:
			m.flush(ctx)
		}
	}
}

func (m *Mirror) flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.pending
	m.pending = make(map[string]domain.OrderbookState, len(batch))
	m.mu.Unlock()

	for token, book := range batch {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err := m.cache.SetBook(wctx, book)
		cancel()
		if err != nil {
			m.logger.WarnContext(ctx, "orderbook mirror write failed",
				slog.String("token_id", token),
				slog.String("market_id", book.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
}
