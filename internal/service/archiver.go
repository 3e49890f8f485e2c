package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Archiver exports journal rows to object storage as JSON Lines. Each run
// covers the trades closed since the previous successful run.
type Archiver struct {
	journal domain.TradeJournal
	blob    domain.BlobWriter
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.Mutex
	from time.Time
}

// NewArchiver creates an Archiver whose first run covers trades closed
// after since.
func NewArchiver(journal domain.TradeJournal, blob domain.BlobWriter, since time.Time, logger *slog.Logger) *Archiver {
	return &Archiver{
		journal: journal,
		blob:    blob,
		logger:  logger.With(slog.String("component", "archiver")),
		now:     time.Now,
		from:    since,
	}
}

// archiveLine is one JSONL record.
type archiveLine struct {
	ID         string    `json:"id"`
	MarketID   string    `json:"market_id"`
	Asset      string    `json:"asset"`
	Action     string    `json:"action"`
	Side       string    `json:"side"`
	Size       float64   `json:"size"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	Reason     string    `json:"reason"`
	OpenedAt   time.Time `json:"opened_at"`
	ClosedAt   time.Time `json:"closed_at"`
}

// ArchivePath returns the object key for an export taken at t.
func ArchivePath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("trades/%04d/%02d/%02d/%d.jsonl", t.Year(), t.Month(), t.Day(), t.Unix())
}

// Run exports one batch. It has the signature of an engine housekeeping
// hook. The window only advances after a successful upload.
func (a *Archiver) Run(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	to := a.now()
	trades, err := a.journal.ListClosedBetween(ctx, a.from, to)
	if err != nil {
		return fmt.Errorf("archiver: list trades: %w", err)
	}
	if len(trades) == 0 {
		a.from = to
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(archiveLine{
			ID:         t.ID,
			MarketID:   t.MarketID,
			Asset:      t.Asset,
			Action:     t.Action,
			Side:       string(t.Side),
			Size:       t.Size,
			EntryPrice: t.EntryPrice,
			ExitPrice:  t.ExitPrice,
			PnL:        t.PnL,
			Reason:     string(t.Reason),
			OpenedAt:   t.OpenedAt,
			ClosedAt:   t.ClosedAt,
		}); err != nil {
			return fmt.Errorf("archiver: encode trade %s: %w", t.ID, err)
		}
	}

	path := ArchivePath(to)
	if err := a.blob.Put(ctx, path, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("archiver: upload %s: %w", path, err)
	}
	a.from = to

	a.logger.InfoContext(ctx, "trades archived",
		slog.String("path", path),
		slog.Int("count", len(trades)),
	)
	return nil
}
