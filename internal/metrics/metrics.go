// Package metrics holds the Prometheus collectors for the relay. Exposed
// under the widget server's /metrics endpoint when enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Turn metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_turns_total",
			Help: "Total conversation turns processed",
		},
		[]string{"channel"},
	)

	TurnsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_turns_failed_total",
			Help: "Turns that ended in a delivery failure",
		},
		[]string{"cause"}, // "status", "empty_reply", "transport"
	)

	// Webhook client metrics
	RelayAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_relay_attempts_total",
			Help: "Individual webhook request attempts, retries included",
		},
	)

	RelayLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_relay_latency_seconds",
			Help:    "Webhook send latency per turn, backoff waits included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Formatter metrics
	FormatDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_format_duration_seconds",
			Help:    "Reply formatting duration",
			Buckets: []float64{.00001, .0001, .001, .01, .1},
		},
	)

	// Widget metrics
	ActiveSSESessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_sse_sessions_active",
			Help: "Currently connected SSE streams",
		},
	)

	ActiveWSSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatrelay_ws_sessions_active",
			Help: "Currently connected WebSocket clients",
		},
	)

	HistoryErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatrelay_history_errors_total",
			Help: "History store operations that failed",
		},
	)
)
