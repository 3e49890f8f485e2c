package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

type fakeBus struct {
	mu   sync.Mutex
	subs map[string]chan []byte
}

func newFakeBus() *fakeBus { return &fakeBus{subs: make(map[string]chan []byte)} }

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	ch := b.subs[channel]
	b.mu.Unlock()
	if ch != nil {
		ch <- payload
	}
	return nil
}

func (b *fakeBus) Subscribe(_ context.Context, channel string) (<-chan []byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 8)
	b.subs[channel] = ch
	return ch, nil
}

func (b *fakeBus) subscribed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (b *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	kind, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_RelaysBusChannels(t *testing.T) {
	bus := newFakeBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	snapshot := func() ([]byte, bool) { return []byte(`{"version":1}`), true }
	hub := NewHub(bus, snapshot, logger, Config{Mode: "Paper", StrategyName: "mean_reversion", Channels: []string{"dashboard", "trades"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()
	require.Eventually(t, func() bool { return bus.subscribed() == 2 }, time.Second, 10*time.Millisecond)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	status := readEnvelope(t, conn)
	assert.Equal(t, "bot_status", status.Type)
	var meta map[string]any
	require.NoError(t, json.Unmarshal(status.Payload, &meta))
	assert.Equal(t, "paper", meta["mode"])
	assert.Equal(t, "mean_reversion", meta["strategy_name"])

	snap := readEnvelope(t, conn)
	assert.Equal(t, "snapshot", snap.Type)
	assert.JSONEq(t, `{"version":1}`, string(snap.Payload))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, bus.Publish(ctx, "trades", []byte(`{"action":"CLOSE UP"}`)))

	env := readEnvelope(t, conn)
	assert.Equal(t, "trades", env.Type)
	assert.JSONEq(t, `{"action":"CLOSE UP"}`, string(env.Payload))

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, hub.ClientCount())
}

func TestClient_Subscriptions(t *testing.T) {
	c := &client{subs: map[string]bool{"dashboard": true, "trades": true}}

	c.handleSubscription(subscribeMsg{Action: "unsubscribe", Channels: []string{"dashboard"}})
	assert.False(t, c.isSubscribed("dashboard"))
	assert.True(t, c.isSubscribed("trades"))

	c.handleSubscription(subscribeMsg{Action: "subscribe", Channels: []string{"dashboard"}})
	assert.True(t, c.isSubscribed("dashboard"))
}

func TestHub_BroadcastSkipsInvalidJSON(t *testing.T) {
	hub := NewHub(newFakeBus(), nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Channels: []string{"trades"}})
	c := &client{hub: hub, send: make(chan []byte, 1), subs: map[string]bool{"trades": true}}
	hub.clients[c] = struct{}{}

	hub.Broadcast("trades", []byte("not json"))
	assert.Empty(t, c.send)

	hub.Broadcast("trades", []byte(`{"ok":true}`))
	assert.Len(t, c.send, 1)
}

func httpHandler(h *Hub) http.Handler { return http.HandlerFunc(h.HandleWS) }
