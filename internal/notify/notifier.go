// Package notify fans trade alerts out to chat channels. Each alert carries
// an event type and only configured event types are delivered.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// Event types.
const (
	EventTradeClosed = "trade_closed"
	EventForceClose  = "force_close"
)

// Sender delivers one message to one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to every Sender.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether event would be delivered to at least one sender.
func (n *Notifier) Enabled(event string) bool {
	if len(n.senders) == 0 {
		return false
	}
	return len(n.events) == 0 || n.events[event]
}

// Notify sends title and message to every sender when event is allowed.
// One failing sender does not stop delivery to the others.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.Enabled(event) {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}

// TradeEvent returns the event type, title and body for a closing trade.
// ok is false for opens, which are never notified.
func TradeEvent(ev domain.TradeEvent) (event, title, message string, ok bool) {
	if !ev.Closed() {
		return "", "", "", false
	}
	event = EventTradeClosed
	if ev.Reason == domain.ExitForced {
		event = EventForceClose
	}
	title = fmt.Sprintf("%s %s", ev.Asset, ev.Action)
	message = fmt.Sprintf("size %.2f  entry %.4f  exit %.4f  pnl %+.4f  (%s)",
		ev.Size, ev.EntryPrice, ev.ExitPrice, *ev.PnL, ev.Reason)
	return event, title, message, true
}
