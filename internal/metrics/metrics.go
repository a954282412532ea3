// Package metrics exposes Prometheus collectors for the position engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ExecutionLatency is the time from dispatch to fill or failure.
var ExecutionLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "perpbot",
		Subsystem: "execution",
		Name:      "latency_ms",
		Help:      "Execution router latency in milliseconds",
		Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	},
	[]string{"venue", "outcome"},
)

// PositionsOpened counts opens and merges.
var PositionsOpened = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpbot",
		Subsystem: "ledger",
		Name:      "positions_opened_total",
		Help:      "Positions opened or increased",
	},
	[]string{"symbol", "side", "action"},
)

// PositionsClosed counts closes by cause.
var PositionsClosed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpbot",
		Subsystem: "ledger",
		Name:      "positions_closed_total",
		Help:      "Positions closed, by cause",
	},
	[]string{"symbol", "cause"},
)

// OpenPositions is the number of open positions per account.
var OpenPositions = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "perpbot",
		Subsystem: "ledger",
		Name:      "open_positions",
		Help:      "Currently open positions",
	},
	[]string{"account"},
)

// ProtectionActions counts protection policy actions.
var ProtectionActions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpbot",
		Subsystem: "protection",
		Name:      "actions_total",
		Help:      "Protection actions fired",
	},
	[]string{"plan", "action"},
)

// TickDuration is the time to evaluate one price tick across all accounts.
var TickDuration = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "perpbot",
		Subsystem: "monitor",
		Name:      "tick_duration_ms",
		Help:      "Time to evaluate a price tick in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500},
	},
)

// FeedMessages counts price feed messages by outcome.
var FeedMessages = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "perpbot",
		Subsystem: "feed",
		Name:      "messages_total",
		Help:      "Price feed messages received",
	},
	[]string{"outcome"},
)

// RecordExecution observes one router call.
func RecordExecution(venue, outcome string, latencyMs float64) {
	ExecutionLatency.WithLabelValues(venue, outcome).Observe(latencyMs)
}

// RecordClose counts a closed position.
func RecordClose(symbol, cause string) {
	PositionsClosed.WithLabelValues(symbol, cause).Inc()
}
