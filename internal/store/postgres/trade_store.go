package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// querier is the subset of *pgxpool.Pool the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// TradeStore implements domain.TradeJournal on the paper_trades table.
type TradeStore struct {
	db querier
}

// NewTradeStore creates a TradeStore on the given pool.
func NewTradeStore(db querier) *TradeStore {
	return &TradeStore{db: db}
}

const tradeSelectCols = `id, market_id, asset, action, side, size,
	entry_price, exit_price, pnl, reason, opened_at, closed_at`

const insertTrade = `
	INSERT INTO paper_trades (
		id, market_id, asset, action, side, size,
		entry_price, exit_price, pnl, reason, opened_at, closed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (id) DO NOTHING`

// Insert records a closed trade. Re-inserting the same id is a no-op.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	_, err := s.db.Exec(ctx, insertTrade,
		t.ID, t.MarketID, t.Asset, t.Action, string(t.Side), t.Size,
		t.EntryPrice, t.ExitPrice, t.PnL, string(t.Reason), t.OpenedAt, t.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListRecent returns trades newest first, filtered and paginated by opts.
func (s *TradeStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.Trade, error) {
	query, args := listQuery(opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades: %w", err)
	}
	return trades, nil
}

// ListClosedBetween returns trades with from <= closed_at < to, oldest
// first.
func (s *TradeStore) ListClosedBetween(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM paper_trades
		WHERE closed_at >= $1 AND closed_at < $2 ORDER BY closed_at ASC`
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades between: %w", err)
	}
	defer rows.Close()

	trades, err := scanTradeRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trades between: %w", err)
	}
	return trades, nil
}

func listQuery(opts domain.ListOpts) (string, []any) {
	var (
		b     strings.Builder
		args  []any
		conds []string
	)
	b.WriteString(`SELECT ` + tradeSelectCols + ` FROM paper_trades`)

	if opts.Since != nil {
		args = append(args, *opts.Since)
		conds = append(conds, fmt.Sprintf("closed_at >= $%d", len(args)))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		conds = append(conds, fmt.Sprintf("closed_at <= $%d", len(args)))
	}
	if len(conds) > 0 {
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	b.WriteString(" ORDER BY closed_at DESC")

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func scanTradeRows(rows pgx.Rows) ([]domain.Trade, error) {
	var trades []domain.Trade
	for rows.Next() {
		var (
			t            domain.Trade
			side, reason string
		)
		if err := rows.Scan(
			&t.ID, &t.MarketID, &t.Asset, &t.Action, &side, &t.Size,
			&t.EntryPrice, &t.ExitPrice, &t.PnL, &reason, &t.OpenedAt, &t.ClosedAt,
		); err != nil {
			return nil, err
		}
		t.Side = domain.PositionSide(side)
		t.Reason = domain.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

var _ domain.TradeJournal = (*TradeStore)(nil)
