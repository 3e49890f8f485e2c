package polymarket

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestFeed(url string) *FeedClient {
	return NewFeedClient(FeedConfig{
		URL:            url,
		PollInterval:   5 * time.Millisecond,
		IdleWait:       5 * time.Millisecond,
		ReconnectDelay: 10 * time.Millisecond,
	}, discardLogger())
}

// wsServer is a fake market channel recording every subscription message.
type wsServer struct {
	srv   *httptest.Server
	subs  chan SubscribeMessage
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	s := &wsServer{
		subs:  make(chan SubscribeMessage, 32),
		conns: make(chan *websocket.Conn, 8),
	}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.conns <- conn
		for {
			var msg SubscribeMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			s.subs <- msg
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *wsServer) nextSub(t *testing.T) SubscribeMessage {
	t.Helper()
	select {
	case msg := <-s.subs:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscription message")
		return SubscribeMessage{}
	}
}

func runFeed(t *testing.T, c *FeedClient) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("feed did not stop")
		}
	})
}

func TestFeedClient_SubscribeIsIdempotent(t *testing.T) {
	c := newTestFeed("ws://unused")

	c.Subscribe("m1", "up1", "down1")
	c.Subscribe("m1", "up1", "down1")

	assert.Equal(t, []string{"down1", "up1"}, c.Tokens())
	assert.Len(t, c.books, 2)
	assert.Equal(t, []string{"up1", "down1"}, c.pending)
}

func TestFeedClient_UnsubscribeStale(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "up1", "down1")
	c.Subscribe("m2", "up2", "down2")
	c.Subscribe("m3", "up3", "down3")

	assert.Zero(t, c.UnsubscribeStale(map[string]struct{}{"m1": {}, "m2": {}, "m3": {}}))
	assert.False(t, c.ReconnectPending())

	removed := c.UnsubscribeStale(map[string]struct{}{"m1": {}})
	assert.Equal(t, 2, removed)
	assert.True(t, c.ReconnectPending())
	assert.Equal(t, []string{"down1", "up1"}, c.Tokens())
	assert.ElementsMatch(t, []string{"up1", "down1"}, c.pending)

	_, ok := c.Book("m2", domain.SideUp)
	assert.False(t, ok)
}

func TestFeedClient_SnapshotArray(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "A", "B")

	var updates []domain.OrderbookState
	c.OnUpdate(func(b domain.OrderbookState) { updates = append(updates, b) })

	snapshot := `[
		{"event_type":"book","asset_id":"A","market":"m1",
		 "bids":[{"price":"0.47","size":"10"},{"price":"0.49","size":"5"},{"price":"0.48","size":"1"}],
		 "asks":[{"price":"0.53","size":"4"},{"price":"0.51","size":"2"}]},
		{"event_type":"book","asset_id":"B","market":"m1",
		 "bids":[{"price":"0.45","size":"3"},{"price":"0.44","size":"3"},{"price":"0.46","size":"3"}],
		 "asks":[{"price":"0.56","size":"1"},{"price":"0.54","size":"8"}]}
	]`
	require.True(t, c.handleMessage([]byte(snapshot)))
	require.Len(t, updates, 2)

	a, ok := c.Book("m1", domain.SideUp)
	require.True(t, ok)
	bid, _ := a.BestBid()
	ask, _ := a.BestAsk()
	spread, _ := a.Spread()
	assert.Equal(t, 0.49, bid)
	assert.Equal(t, 0.51, ask)
	assert.InDelta(t, 0.02, spread, 1e-9)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.49, Size: 5}, {Price: 0.48, Size: 1}, {Price: 0.47, Size: 10}}, a.Bids)

	b, ok := c.Book("m1", domain.SideDown)
	require.True(t, ok)
	bid, _ = b.BestBid()
	ask, _ = b.BestAsk()
	spread, _ = b.Spread()
	assert.Equal(t, 0.46, bid)
	assert.Equal(t, 0.54, ask)
	assert.InDelta(t, 0.08, spread, 1e-9)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.54, Size: 8}, {Price: 0.56, Size: 1}}, b.Asks)
}

func TestFeedClient_BookIsTruncatedToDepth(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "A", "B")

	var levels []string
	for i := 1; i <= 15; i++ {
		levels = append(levels, fmt.Sprintf(`{"price":"%.2f","size":"1"}`, float64(i)/100))
	}
	msg := `{"asset_id":"A","bids":[` + strings.Join(levels, ",") + `],"asks":[]}`
	require.True(t, c.handleMessage([]byte(msg)))

	a, _ := c.Book("m1", domain.SideUp)
	require.Len(t, a.Bids, domain.BookDepth)
	assert.Equal(t, 0.15, a.Bids[0].Price)
	for i := 1; i < len(a.Bids); i++ {
		assert.Greater(t, a.Bids[i-1].Price, a.Bids[i].Price)
	}
	assert.Empty(t, a.Asks)
}

func TestFeedClient_PriceChangesOnlyTouchTimestamp(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "A", "B")
	require.True(t, c.handleMessage([]byte(`{"asset_id":"A","bids":[{"price":"0.4","size":"1"}],"asks":[{"price":"0.6","size":"1"}]}`)))

	later := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return later }

	called := 0
	c.OnUpdate(func(domain.OrderbookState) { called++ })

	require.True(t, c.handleMessage([]byte(`{"market":"m1","price_changes":[{"asset_id":"A","price":"0.9","size":"100","side":"BUY"}]}`)))

	a, _ := c.Book("m1", domain.SideUp)
	assert.Equal(t, later, a.LastUpdate)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.4, Size: 1}}, a.Bids)
	assert.Zero(t, called)
}

func TestFeedClient_MalformedJSONDropped(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "A", "B")
	require.True(t, c.handleMessage([]byte(`{"asset_id":"A","bids":[{"price":"0.4","size":"1"}]}`)))

	assert.False(t, c.handleMessage([]byte(`{"asset_id":"A","bids":[`)))
	assert.False(t, c.handleMessage([]byte(`[not json`)))

	a, _ := c.Book("m1", domain.SideUp)
	assert.Equal(t, []domain.PriceLevel{{Price: 0.4, Size: 1}}, a.Bids)
}

func TestFeedClient_ObserverPanicIsContained(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "A", "B")

	var got []string
	c.OnUpdate(func(domain.OrderbookState) { panic("boom") })
	c.OnUpdate(func(b domain.OrderbookState) { got = append(got, b.TokenID) })

	assert.NotPanics(t, func() {
		c.handleMessage([]byte(`{"asset_id":"B","asks":[{"price":"0.6","size":"1"}]}`))
	})
	assert.Equal(t, []string{"B"}, got)
}

func TestFeedClient_UnknownTokenIgnored(t *testing.T) {
	c := newTestFeed("ws://unused")
	c.Subscribe("m1", "A", "B")

	called := false
	c.OnUpdate(func(domain.OrderbookState) { called = true })
	assert.True(t, c.handleMessage([]byte(`{"asset_id":"Z","bids":[{"price":"0.4","size":"1"}]}`)))
	assert.False(t, called)
}

func TestFeedClient_RunSubscribesAndFlushesIncrementally(t *testing.T) {
	srv := newWSServer(t)
	c := newTestFeed(srv.url())
	c.Subscribe("m1", "up1", "down1")

	runFeed(t, c)

	first := srv.nextSub(t)
	assert.Equal(t, "market", first.Type)
	assert.Equal(t, []string{"down1", "up1"}, first.AssetsIDs)

	c.Subscribe("m2", "up2", "down2")
	second := srv.nextSub(t)
	assert.Equal(t, []string{"up2", "down2"}, second.AssetsIDs)

	assert.Eventually(t, func() bool { return c.State() == StateConnected }, time.Second, 5*time.Millisecond)
}

func TestFeedClient_RunDeliversBooks(t *testing.T) {
	srv := newWSServer(t)
	c := newTestFeed(srv.url())
	c.Subscribe("m1", "A", "B")

	updates := make(chan domain.OrderbookState, 4)
	c.OnUpdate(func(b domain.OrderbookState) { updates <- b })

	runFeed(t, c)
	srv.nextSub(t)
	conn := <-srv.conns

	require.NoError(t, conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"asset_id":"A","bids":[{"price":"0.48","size":"2"}],"asks":[{"price":"0.52","size":"2"}]}`)))

	select {
	case b := <-updates:
		mid, ok := b.MidPrice()
		assert.True(t, ok)
		assert.InDelta(t, 0.50, mid, 1e-9)
		assert.Equal(t, "m1", b.MarketID)
		assert.Equal(t, domain.SideUp, b.Side)
	case <-time.After(2 * time.Second):
		t.Fatal("no update delivered")
	}
}

func TestFeedClient_ReconnectsWithOnlyActiveTokens(t *testing.T) {
	srv := newWSServer(t)
	c := newTestFeed(srv.url())
	c.Subscribe("m1", "up1", "down1")
	c.Subscribe("m2", "up2", "down2")

	runFeed(t, c)
	first := srv.nextSub(t)
	assert.Len(t, first.AssetsIDs, 4)

	assert.Equal(t, 1, c.UnsubscribeStale(map[string]struct{}{"m1": {}}))

	again := srv.nextSub(t)
	assert.Equal(t, []string{"down1", "up1"}, again.AssetsIDs)
	assert.Eventually(t, func() bool { return !c.ReconnectPending() }, time.Second, 5*time.Millisecond)
}

func TestFeedClient_RunIdlesWithoutSubscriptions(t *testing.T) {
	c := newTestFeed("ws://127.0.0.1:1")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateDisconnected, c.State())
}
