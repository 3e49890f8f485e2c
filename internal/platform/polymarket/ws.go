package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polysniper/internal/domain"
	"github.com/alanyoungcy/polysniper/internal/metrics"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	handshakeTimeout = 15 * time.Second

	defaultPollInterval     = 100 * time.Millisecond
	defaultIdleWait         = 500 * time.Millisecond
	defaultReconnectDelay   = time.Second
	defaultMaxParseFailures = 50

	marketChannel = "market"
)

// ConnState is the connection state of the FeedClient.
type ConnState int32

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// UpdateHandler is called once per successfully parsed book update with a
// copy of the updated book.
type UpdateHandler func(domain.OrderbookState)

// FeedConfig configures a FeedClient. Zero durations fall back to defaults.
type FeedConfig struct {
	// URL is the CLOB market channel, e.g.
	// "wss://ws-subscriptions-clob.polymarket.com/ws/market".
	URL string

	// PollInterval bounds how long a newly subscribed token waits before it
	// is flushed on a live connection.
	PollInterval time.Duration

	// IdleWait is how often Run re-checks for subscriptions while it has none.
	IdleWait time.Duration

	// ReconnectDelay is the fixed backoff between connection attempts.
	ReconnectDelay time.Duration

	// MaxParseFailures is the number of consecutive unparseable frames
	// tolerated before the connection is recycled.
	MaxParseFailures int
}

func (c FeedConfig) withDefaults() FeedConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.IdleWait <= 0 {
		c.IdleWait = defaultIdleWait
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = defaultReconnectDelay
	}
	if c.MaxParseFailures <= 0 {
		c.MaxParseFailures = defaultMaxParseFailures
	}
	return c
}

// FeedClient keeps one multiplexed connection to the Polymarket CLOB market
// channel. It owns subscription and reconnect policy, maintains the
// per-token OrderbookState and fans book updates out to observers.
type FeedClient struct {
	cfg    FeedConfig
	dialer websocket.Dialer
	logger *slog.Logger
	now    func() time.Time

	state atomic.Int32

	mu             sync.Mutex
	books          map[string]*domain.OrderbookState // token id -> book
	markets        map[string][2]string              // market id -> [up, down] token ids
	live           map[string]struct{}               // tokens sent on the current connection
	pending        []string                          // tokens waiting for the next subscription message
	forceReconnect bool

	handlerMu sync.RWMutex
	handlers  []UpdateHandler
}

// NewFeedClient creates a FeedClient. It does not connect until Run is called.
func NewFeedClient(cfg FeedConfig, logger *slog.Logger) *FeedClient {
	return &FeedClient{
		cfg:     cfg.withDefaults(),
		dialer:  websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		logger:  logger.With(slog.String("component", "polymarket_feed")),
		now:     time.Now,
		books:   make(map[string]*domain.OrderbookState),
		markets: make(map[string][2]string),
		live:    make(map[string]struct{}),
	}
}

// Subscribe registers the two outcome tokens of a market. Tokens that are
// already known are left untouched; new ones get an empty book and are
// queued for the next subscription message.
func (c *FeedClient) Subscribe(marketID, tokenUp, tokenDown string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := [2]string{tokenUp, tokenDown}
	c.markets[marketID] = tokens
	for i, tok := range tokens {
		if tok == "" {
			continue
		}
		if _, ok := c.books[tok]; ok {
			continue
		}
		side := domain.SideUp
		if i == 1 {
			side = domain.SideDown
		}
		c.books[tok] = domain.NewOrderbookState(marketID, side, tok)
		c.pending = append(c.pending, tok)
	}
}

// UnsubscribeStale drops every market not in active together with its books
// and subscription records. The venue cannot unsubscribe cleanly, so any
// removal flags the connection for a full reconnect. It returns the number
// of markets removed.
func (c *FeedClient) UnsubscribeStale(active map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, tokens := range c.markets {
		if _, ok := active[id]; ok {
			continue
		}
		for _, tok := range tokens {
			delete(c.books, tok)
			delete(c.live, tok)
		}
		delete(c.markets, id)
		removed++
	}
	if removed == 0 {
		return 0
	}

	kept := c.pending[:0]
	for _, tok := range c.pending {
		if _, ok := c.books[tok]; ok {
			kept = append(kept, tok)
		}
	}
	c.pending = kept
	c.forceReconnect = true
	return removed
}

// OnUpdate registers an observer. Observers run synchronously on the feed
// goroutine, in message arrival order.
func (c *FeedClient) OnUpdate(handler UpdateHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handlers = append(c.handlers, handler)
}

// Book returns a copy of the current book for one side of a market.
func (c *FeedClient) Book(marketID string, side domain.Side) (domain.OrderbookState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens, ok := c.markets[marketID]
	if !ok {
		return domain.OrderbookState{}, false
	}
	book, ok := c.books[tokens[side.Index()]]
	if !ok {
		return domain.OrderbookState{}, false
	}
	return book.Clone(), true
}

// Tokens returns every subscribed token id in sorted order.
func (c *FeedClient) Tokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedTokensLocked()
}

// ReconnectPending reports whether a forced reconnect has been requested and
// not yet performed.
func (c *FeedClient) ReconnectPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.forceReconnect
}

// State returns the current connection state.
func (c *FeedClient) State() ConnState {
	return ConnState(c.state.Load())
}

// Run drives the connection state machine until ctx is cancelled. It never
// returns on its own: socket errors, stale subscriptions and message storms
// all lead back to CONNECTING after the fixed reconnect delay.
func (c *FeedClient) Run(ctx context.Context) error {
	defer c.setState(StateDisconnected)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !c.hasSubscriptions() {
			c.setState(StateDisconnected)
			if !sleepCtx(ctx, c.cfg.IdleWait) {
				return ctx.Err()
			}
			continue
		}

		c.setState(StateConnecting)
		err := c.session(ctx)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		cause := "error"
		switch {
		case errors.Is(err, domain.ErrForcedReconnect):
			cause = "stale"
		case errors.Is(err, domain.ErrMessageStorm):
			cause = "storm"
		}
		metrics.FeedReconnects.WithLabelValues(cause).Inc()
		c.setState(StateReconnecting)
		c.logger.WarnContext(ctx, "feed disconnected",
			slog.String("cause", cause),
			slog.String("error", errString(err)),
			slog.Duration("retry_in", c.cfg.ReconnectDelay),
		)

		if !sleepCtx(ctx, c.cfg.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// session runs one connection from dial to teardown.
func (c *FeedClient) session(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	conn, _, err := c.dialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("polymarket/ws: dial: %w", err)
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	defer func() {
		close(stop)
		conn.Close()
		<-readerDone
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	frames := make(chan []byte, 256)
	readErr := make(chan error, 1)
	go func() {
		defer close(readerDone)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			conn.SetReadDeadline(time.Now().Add(pongWait))
			select {
			case frames <- msg:
			case <-stop:
				return
			}
		}
	}()

	tokens := c.beginSession()
	if err := writeJSON(conn, SubscribeMessage{AssetsIDs: tokens, Type: marketChannel}); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	c.setState(StateConnected)
	c.logger.InfoContext(ctx, "feed connected", slog.Int("tokens", len(tokens)))

	poll := time.NewTicker(c.cfg.PollInterval)
	defer poll.Stop()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	parseFailures := 0
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return ctx.Err()

		case err := <-readErr:
			return fmt.Errorf("polymarket/ws: read: %w: %w", domain.ErrWSDisconnect, err)

		case msg := <-frames:
			if c.handleMessage(msg) {
				parseFailures = 0
				continue
			}
			parseFailures++
			if parseFailures > c.cfg.MaxParseFailures {
				return fmt.Errorf("polymarket/ws: %w (%d in a row)", domain.ErrMessageStorm, parseFailures)
			}

		case <-poll.C:
			if c.ReconnectPending() {
				return domain.ErrForcedReconnect
			}
			fresh := c.drainPending()
			if len(fresh) == 0 {
				continue
			}
			if err := writeJSON(conn, SubscribeMessage{AssetsIDs: fresh, Type: marketChannel}); err != nil {
				return fmt.Errorf("polymarket/ws: incremental subscribe: %w", err)
			}
			c.logger.DebugContext(ctx, "incremental subscription sent", slog.Int("tokens", len(fresh)))

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return fmt.Errorf("polymarket/ws: ping: %w", err)
			}
		}
	}
}

// beginSession snapshots the full token list for a fresh connection and
// clears the pending queue and the force-reconnect flag.
func (c *FeedClient) beginSession() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := c.sortedTokensLocked()
	c.live = make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		c.live[tok] = struct{}{}
	}
	c.pending = nil
	c.forceReconnect = false
	return tokens
}

// drainPending returns queued tokens not yet sent on this connection and
// marks them live.
func (c *FeedClient) drainPending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}
	var out []string
	for _, tok := range c.pending {
		if _, ok := c.live[tok]; ok {
			continue
		}
		if _, ok := c.books[tok]; !ok {
			continue
		}
		c.live[tok] = struct{}{}
		out = append(out, tok)
	}
	c.pending = nil
	return out
}

func (c *FeedClient) hasSubscriptions() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.books) > 0
}

// sortedTokensLocked returns every known token. Caller must hold c.mu.
func (c *FeedClient) sortedTokensLocked() []string {
	tokens := make([]string, 0, len(c.books))
	for tok := range c.books {
		tokens = append(tokens, tok)
	}
	sort.Strings(tokens)
	return tokens
}

// handleMessage parses one inbound frame. A JSON array is an initial
// snapshot whose elements are each handled as an update. It returns false
// when the frame could not be parsed; such frames are dropped.
func (c *FeedClient) handleMessage(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return true
	}

	if raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			metrics.FeedParseErrors.Inc()
			return false
		}
		metrics.FeedMessages.WithLabelValues("snapshot").Inc()
		for _, item := range items {
			c.handleObject(item)
		}
		return true
	}

	return c.handleObject(raw)
}

func (c *FeedClient) handleObject(raw []byte) bool {
	var f wsFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		metrics.FeedParseErrors.Inc()
		return false
	}

	switch {
	case f.isBook():
		metrics.FeedMessages.WithLabelValues("book").Inc()
		c.applyBook(&f)
	case len(f.PriceChanges) > 0:
		metrics.FeedMessages.WithLabelValues("price_change").Inc()
		c.touch(&f)
	default:
		metrics.FeedMessages.WithLabelValues("other").Inc()
	}
	return true
}

// applyBook replaces the book for the frame's token and notifies observers.
// Frames for unknown tokens are ignored.
func (c *FeedClient) applyBook(f *wsFrame) {
	bids, asks := f.bookSides()

	c.mu.Lock()
	book, ok := c.books[f.AssetID]
	if !ok {
		c.mu.Unlock()
		return
	}
	book.Bids = normaliseBids(parseLevels(bids), domain.BookDepth)
	book.Asks = normaliseAsks(parseLevels(asks), domain.BookDepth)
	book.LastUpdate = c.now()
	snap := book.Clone()
	c.mu.Unlock()

	c.dispatch(snap)
}

// touch refreshes LastUpdate for every token named in a price_changes
// frame. Levels are left alone: price changes are not full books.
func (c *FeedClient) touch(f *wsFrame) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, pc := range f.PriceChanges {
		asset := pc.AssetID
		if asset == "" {
			asset = f.AssetID
		}
		if book, ok := c.books[asset]; ok {
			book.LastUpdate = now
		}
	}
}

func (c *FeedClient) dispatch(book domain.OrderbookState) {
	c.handlerMu.RLock()
	handlers := c.handlers
	c.handlerMu.RUnlock()

	for i, h := range handlers {
		snap := book
		if i > 0 {
			snap = book.Clone()
		}
		c.invoke(h, snap)
	}
}

// invoke runs one observer, containing any panic it raises.
func (c *FeedClient) invoke(h UpdateHandler, book domain.OrderbookState) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("feed observer panicked",
				slog.String("token_id", book.TokenID),
				slog.Any("panic", r),
			)
		}
	}()
	h(book)
}

func (c *FeedClient) setState(s ConnState) {
	c.state.Store(int32(s))
	metrics.FeedState.Set(float64(s))
}

func writeJSON(conn *websocket.Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
