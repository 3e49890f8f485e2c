package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func TestSignalBus_PublishAndAppend(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))
	ctx := context.Background()

	payload := []byte(`{"action":"CLOSE UP"}`)
	mock.ExpectPublish(ChannelTrades, payload).SetVal(1)
	mock.ExpectXAdd(&redis.XAddArgs{
		Stream: StreamTrades,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}).SetVal("1-0")

	require.NoError(t, bus.Publish(ctx, ChannelTrades, payload))
	require.NoError(t, bus.StreamAppend(ctx, StreamTrades, payload))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSignalBus_PublishError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))

	mock.ExpectPublish(ChannelDashboard, []byte("{}")).SetErr(errors.New("connection refused"))

	err := bus.Publish(context.Background(), ChannelDashboard, []byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: publish dashboard")
}

func TestSignalBus_StreamRead(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bus := NewSignalBus(Wrap(db))

	args := &redis.XReadArgs{Streams: []string{StreamTrades, "0"}, Count: 10, Block: -1}
	mock.ExpectXRead(args).SetVal([]redis.XStream{{
		Stream: StreamTrades,
		Messages: []redis.XMessage{
			{ID: "1-0", Values: map[string]interface{}{"payload": "a"}},
			{ID: "2-0", Values: map[string]interface{}{"other": "x"}},
			{ID: "3-0", Values: map[string]interface{}{"payload": "c"}},
		},
	}})

	msgs, err := bus.StreamRead(context.Background(), StreamTrades, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, domain.StreamMessage{ID: "1-0", Payload: []byte("a")}, msgs[0])
	assert.Equal(t, "3-0", msgs[1].ID)

	mock.ExpectXRead(args).RedisNil()
	msgs, err = bus.StreamRead(context.Background(), StreamTrades, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("trades*"))
	assert.False(t, hasPattern("trades"))
}

func TestOrderbookCache_SetBook(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewOrderbookCache(Wrap(db))

	ts := time.Unix(1700000000, 500)
	book := domain.OrderbookState{
		MarketID:   "m1",
		Side:       domain.SideUp,
		TokenID:    "tok",
		Bids:       []domain.PriceLevel{{Price: 0.52, Size: 100}, {Price: 0.5, Size: 20}},
		Asks:       []domain.PriceLevel{{Price: 0.55, Size: 7.5}},
		LastUpdate: ts,
	}

	mock.ExpectTxPipeline()
	mock.ExpectDel("book:tok:bids", "book:tok:asks", "book:tok:meta").SetVal(3)
	mock.ExpectZAdd("book:tok:bids",
		redis.Z{Score: 0.52, Member: "0.52|100"},
		redis.Z{Score: 0.5, Member: "0.5|20"},
	).SetVal(2)
	mock.ExpectExpire("book:tok:bids", bookTTL).SetVal(true)
	mock.ExpectZAdd("book:tok:asks", redis.Z{Score: 0.55, Member: "0.55|7.5"}).SetVal(1)
	mock.ExpectExpire("book:tok:asks", bookTTL).SetVal(true)
	mock.ExpectHSet("book:tok:meta", "market_id", "m1", "side", "UP", "ts", "1700000000000000500").SetVal(3)
	mock.ExpectExpire("book:tok:meta", bookTTL).SetVal(true)
	mock.ExpectTxPipelineExec()

	require.NoError(t, cache.SetBook(context.Background(), book))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderbookCache_SetBookRequiresToken(t *testing.T) {
	db, _ := redismock.NewClientMock()
	cache := NewOrderbookCache(Wrap(db))
	assert.Error(t, cache.SetBook(context.Background(), domain.OrderbookState{MarketID: "m1"}))
}

func TestOrderbookCache_GetBook(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewOrderbookCache(Wrap(db))

	mock.ExpectZRevRangeWithScores("book:tok:bids", 0, -1).SetVal([]redis.Z{
		{Score: 0.52, Member: "0.52|100"},
		{Score: 0.5, Member: "garbage"},
	})
	mock.ExpectZRangeWithScores("book:tok:asks", 0, -1).SetVal([]redis.Z{{Score: 0.55, Member: "0.55|7.5"}})
	mock.ExpectHGetAll("book:tok:meta").SetVal(map[string]string{
		"market_id": "m1",
		"side":      "DOWN",
		"ts":        "1700000000000000000",
	})

	book, err := cache.GetBook(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "m1", book.MarketID)
	assert.Equal(t, domain.SideDown, book.Side)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.52, Size: 100}}, book.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.55, Size: 7.5}}, book.Asks)
	assert.Equal(t, int64(1700000000), book.LastUpdate.Unix())
}

func TestOrderbookCache_GetBookMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cache := NewOrderbookCache(Wrap(db))

	mock.ExpectZRevRangeWithScores("book:none:bids", 0, -1).SetVal(nil)
	mock.ExpectZRangeWithScores("book:none:asks", 0, -1).SetVal(nil)
	mock.ExpectHGetAll("book:none:meta").SetVal(map[string]string{})

	_, err := cache.GetBook(context.Background(), "none")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLocker_Acquire(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(Wrap(db))

	mock.Regexp().ExpectSetNX("lock:engine", `.+`, time.Minute).SetVal(true)
	lease, err := locker.Acquire(context.Background(), "engine", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "lock:engine", lease.key)

	mock.Regexp().ExpectSetNX("lock:engine", `.+`, time.Minute).SetVal(false)
	_, err = locker.Acquire(context.Background(), "engine", time.Minute)
	assert.ErrorIs(t, err, domain.ErrLockHeld)
}

func TestLease_ExtendAndRelease(t *testing.T) {
	db, mock := redismock.NewClientMock()
	locker := NewLocker(Wrap(db))
	lease := &Lease{l: locker, key: "lock:engine", token: "tok-1", ttl: time.Minute}

	mock.ExpectEvalSha(locker.extend.Hash(), []string{"lock:engine"}, "tok-1", int64(60000)).SetVal(int64(1))
	require.NoError(t, lease.Extend(context.Background()))

	mock.ExpectEvalSha(locker.extend.Hash(), []string{"lock:engine"}, "tok-1", int64(60000)).SetVal(int64(0))
	assert.ErrorIs(t, lease.Extend(context.Background()), domain.ErrLockHeld)

	mock.ExpectEvalSha(locker.release.Hash(), []string{"lock:engine"}, "tok-1").SetVal(int64(1))
	assert.NoError(t, lease.Release())
	assert.NoError(t, mock.ExpectationsWereMet())
}
