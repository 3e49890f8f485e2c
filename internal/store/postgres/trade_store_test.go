package postgres

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		suffix   string
		argCount int
	}{
		{"no filters", domain.ListOpts{}, " FROM paper_trades ORDER BY closed_at DESC", 0},
		{"limit only", domain.ListOpts{Limit: 50}, " ORDER BY closed_at DESC LIMIT $1", 1},
		{"since and page", domain.ListOpts{Since: &since, Limit: 10, Offset: 20}, " WHERE closed_at >= $1 ORDER BY closed_at DESC LIMIT $2 OFFSET $3", 3},
		{"window", domain.ListOpts{Since: &since, Until: &since}, " WHERE closed_at >= $1 AND closed_at <= $2 ORDER BY closed_at DESC", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery(tt.opts)
			assert.True(t, strings.HasSuffix(q, tt.suffix), q)
			assert.Len(t, args, tt.argCount)
		})
	}
}

type recordingDB struct {
	sql  string
	args []any
	err  error
}

func (r *recordingDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	r.sql, r.args = sql, args
	return pgconn.NewCommandTag("INSERT 0 1"), r.err
}

func (r *recordingDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, r.err
}

func TestTradeStore_Insert(t *testing.T) {
	db := &recordingDB{}
	store := NewTradeStore(db)

	tr := domain.Trade{
		ID: "3f1c", MarketID: "m1", Asset: "BTC", Action: "CLOSE UP",
		Side: domain.PositionLongUp, Size: 5, EntryPrice: 0.404, ExitPrice: 0.44,
		PnL: 0.44, Reason: domain.ExitTakeProfit,
	}
	require.NoError(t, store.Insert(context.Background(), tr))
	assert.Contains(t, db.sql, "INSERT INTO paper_trades")
	require.Len(t, db.args, 12)
	assert.Equal(t, "LONG_UP", db.args[4])
	assert.Equal(t, "take_profit", db.args[9])

	db.err = errors.New("conn reset")
	err := store.Insert(context.Background(), tr)
	assert.ErrorContains(t, err, "postgres: insert trade 3f1c")
}

func TestTradeStore_ListRecentError(t *testing.T) {
	store := NewTradeStore(&recordingDB{err: errors.New("boom")})
	_, err := store.ListRecent(context.Background(), domain.ListOpts{Limit: 1})
	assert.ErrorContains(t, err, "postgres: list trades")
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "001_paper_trades.sql", entries[0].Name())
}
