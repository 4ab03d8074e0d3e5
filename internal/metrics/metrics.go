// Package metrics exposes Prometheus collectors for trade execution and
// position monitoring.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the coordinator and monitor update.
type Metrics struct {
	TradesExecuted  *prometheus.CounterVec
	TradesRejected  *prometheus.CounterVec
	TradesFailed    *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	MonitorCycles   *prometheus.CounterVec
	MonitorErrors   *prometheus.CounterVec
	OpenPositions   *prometheus.GaugeVec
	ExecuteDuration prometheus.Histogram
	FeeChargedUSD   prometheus.Counter
	ProfitShareUSD  prometheus.Counter
}

// New registers all collectors with the given registerer and returns them.
// Pass prometheus.DefaultRegisterer in production; tests use a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "venuebot_trades_executed_total",
			Help: "Confirmed opens by venue.",
		}, []string{"venue"}),
		TradesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "venuebot_trades_rejected_total",
			Help: "Signals rejected by pre-trade validation, by venue.",
		}, []string{"venue"}),
		TradesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "venuebot_trades_failed_total",
			Help: "Venue or infrastructure failures during execution, by venue.",
		}, []string{"venue"}),
		PositionsClosed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "venuebot_positions_closed_total",
			Help: "Finalized positions by venue and close reason.",
		}, []string{"venue", "reason"}),
		MonitorCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "venuebot_monitor_cycles_total",
			Help: "Completed monitor cycles by venue.",
		}, []string{"venue"}),
		MonitorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "venuebot_monitor_errors_total",
			Help: "Per-position monitor failures by venue.",
		}, []string{"venue"}),
		OpenPositions: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "venuebot_open_positions",
			Help: "Open positions currently tracked, by venue.",
		}, []string{"venue"}),
		ExecuteDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "venuebot_execute_duration_seconds",
			Help:    "Wall time of ExecuteSignal from receipt to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		FeeChargedUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "venuebot_fees_charged_usd_total",
			Help: "Cumulative flat platform fees collected.",
		}),
		ProfitShareUSD: factory.NewCounter(prometheus.CounterOpts{
			Name: "venuebot_profit_share_usd_total",
			Help: "Cumulative profit share distributed.",
		}),
	}
}
