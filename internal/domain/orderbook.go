package domain

import "time"

// BookDepth is the maximum number of levels kept per book side.
const BookDepth = 10

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderbookState is the top-of-book view for one side of a market. Bids are
// strictly descending by price and asks strictly ascending, each holding at
// most BookDepth levels.
type OrderbookState struct {
	MarketID   string
	Side       Side
	TokenID    string
	Bids       []PriceLevel
	Asks       []PriceLevel
	LastUpdate time.Time
}

// NewOrderbookState returns an empty book for the given market side.
func NewOrderbookState(marketID string, side Side, tokenID string) *OrderbookState {
	return &OrderbookState{
		MarketID: marketID,
		Side:     side,
		TokenID:  tokenID,
	}
}

// BestBid returns the highest bid price.
func (o OrderbookState) BestBid() (float64, bool) {
	if len(o.Bids) == 0 {
		return 0, false
	}
	return o.Bids[0].Price, true
}

// BestAsk returns the lowest ask price.
func (o OrderbookState) BestAsk() (float64, bool) {
	if len(o.Asks) == 0 {
		return 0, false
	}
	return o.Asks[0].Price, true
}

// MidPrice is the average of best bid and best ask. When only one side is
// present its best price is returned; with an empty book ok is false.
func (o OrderbookState) MidPrice() (float64, bool) {
	bid, hasBid := o.BestBid()
	ask, hasAsk := o.BestAsk()
	switch {
	case hasBid && hasAsk:
		return (bid + ask) / 2, true
	case hasBid:
		return bid, true
	case hasAsk:
		return ask, true
	default:
		return 0, false
	}
}

// Spread returns best ask minus best bid. Both sides must be present.
func (o OrderbookState) Spread() (float64, bool) {
	bid, hasBid := o.BestBid()
	ask, hasAsk := o.BestAsk()
	if !hasBid || !hasAsk {
		return 0, false
	}
	return ask - bid, true
}

// Clone returns a deep copy safe to hand to another goroutine.
func (o OrderbookState) Clone() OrderbookState {
	out := o
	out.Bids = append([]PriceLevel(nil), o.Bids...)
	out.Asks = append([]PriceLevel(nil), o.Asks...)
	return out
}
