package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TradeJournal persists closed paper trades.
type TradeJournal interface {
	Insert(ctx context.Context, trade Trade) error
	ListRecent(ctx context.Context, opts ListOpts) ([]Trade, error)
	ListClosedBetween(ctx context.Context, from, to time.Time) ([]Trade, error)
}
