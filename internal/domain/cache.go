package domain

import "context"

// OrderbookCache mirrors live orderbook state outside the process.
type OrderbookCache interface {
	SetBook(ctx context.Context, book OrderbookState) error
	GetBook(ctx context.Context, tokenID string) (OrderbookState, error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
