// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FeedMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polysniper_feed_messages_total", Help: "Inbound feed frames by kind"},
		[]string{"kind"},
	)
	FeedParseErrors = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "polysniper_feed_parse_errors_total", Help: "Feed frames dropped as unparseable"},
	)
	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polysniper_feed_reconnects_total", Help: "Feed reconnects by cause"},
		[]string{"cause"},
	)
	FeedState = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polysniper_feed_state", Help: "Feed connection state (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)"},
	)
	DiscoveryRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polysniper_discovery_requests_total", Help: "Discovery calls by result"},
		[]string{"result"},
	)
	ActiveMarkets = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polysniper_active_markets", Help: "Markets currently registered"},
	)
	Ticks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "polysniper_ticks_total", Help: "Decision ticks executed"},
	)
	Trades = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polysniper_trades_total", Help: "Realized trades by exit reason"},
		[]string{"reason"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polysniper_open_positions", Help: "Open paper positions"},
	)
	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "polysniper_realized_pnl", Help: "Cumulative realized P&L"},
	)
	SinkDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polysniper_sink_dropped_total", Help: "Events dropped because a sink buffer was full"},
		[]string{"sink"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "polysniper_http_requests_total", Help: "API requests by method and status"},
		[]string{"method", "status"},
	)
)

func init() {
	prometheus.MustRegister(
		FeedMessages, FeedParseErrors, FeedReconnects, FeedState,
		DiscoveryRequests, ActiveMarkets,
		Ticks, Trades, OpenPositions, RealizedPnL,
		SinkDropped, HTTPRequests,
	)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
