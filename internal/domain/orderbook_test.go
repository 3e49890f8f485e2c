package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOrderbookState_MidPrice(t *testing.T) {
	tests := []struct {
		name   string
		bids   []PriceLevel
		asks   []PriceLevel
		want   float64
		wantOK bool
	}{
		{"both sides", []PriceLevel{{0.48, 10}}, []PriceLevel{{0.52, 5}}, 0.50, true},
		{"bids only", []PriceLevel{{0.41, 10}, {0.40, 3}}, nil, 0.41, true},
		{"asks only", nil, []PriceLevel{{0.63, 1}}, 0.63, true},
		{"empty", nil, nil, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ob := OrderbookState{Bids: tt.bids, Asks: tt.asks}
			got, ok := ob.MidPrice()
			assert.Equal(t, tt.wantOK, ok)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestOrderbookState_Spread(t *testing.T) {
	ob := OrderbookState{
		Bids: []PriceLevel{{0.47, 1}},
		Asks: []PriceLevel{{0.50, 1}},
	}
	spread, ok := ob.Spread()
	assert.True(t, ok)
	assert.InDelta(t, 0.03, spread, 1e-12)

	_, ok = OrderbookState{Bids: ob.Bids}.Spread()
	assert.False(t, ok)
}

func TestOrderbookState_CloneIsIndependent(t *testing.T) {
	ob := OrderbookState{
		Bids:       []PriceLevel{{0.4, 1}},
		Asks:       []PriceLevel{{0.6, 1}},
		LastUpdate: time.Unix(100, 0),
	}
	cp := ob.Clone()
	cp.Bids[0].Price = 0.1

	assert.Equal(t, 0.4, ob.Bids[0].Price)
	assert.Equal(t, ob.LastUpdate, cp.LastUpdate)
}

func TestPosition_PnLAt(t *testing.T) {
	p := Position{Side: PositionLongUp, Size: 10, EntryPrice: 0.5}
	assert.InDelta(t, 2.0, p.PnLAt(0.6), 1e-12)

	p.Flatten()
	assert.False(t, p.IsOpen())
	assert.Equal(t, 0.0, p.PnLAt(0.9))
}

func TestMarket_Expired(t *testing.T) {
	now := time.Now()
	m := Market{EndTime: now}
	assert.True(t, m.Expired(now))
	assert.False(t, m.Expired(now.Add(-time.Second)))
	assert.Equal(t, "b", Market{TokenIDs: [2]string{"a", "b"}}.Token(SideDown))
}
