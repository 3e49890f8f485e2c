package domain

import "context"

// MarketDiscovery supplies the currently tradable markets for a set of
// underlying assets. Implementations are expected to fail now and then.
type MarketDiscovery interface {
	ListActiveMarkets(ctx context.Context, assets []string) ([]Market, error)
}

// TradeSink receives trade notifications. EmitTrade must not block.
type TradeSink interface {
	EmitTrade(ev TradeEvent)
}

// DashboardSink receives consolidated engine snapshots. UpdateState must
// not block.
type DashboardSink interface {
	UpdateState(state DashboardState)
}
