// Package metrics exposes the Prometheus instrumentation the connector's
// supervisor, heartbeat publisher, and publisher API emit. Grounded on
// Harsh-BH-Sentinel/worker/internal/metrics/prometheus.go's promauto-based
// counters/gauges/histograms.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the connector's metrics so they can be registered
// against a caller-supplied prometheus.Registerer instead of always
// reaching for the global default (useful for tests and for embedding
// multiple connector instances in one process).
type Registry struct {
	ConsumerRestarts       *prometheus.CounterVec
	RestartBudgetExceeded  *prometheus.CounterVec
	WorkersConsuming       prometheus.Gauge
	HeartbeatsPublished    prometheus.Counter
	HeartbeatFailures      prometheus.Counter
	MessagesEmitted        *prometheus.CounterVec
	RequestReplyLatency    prometheus.Histogram
	RequestReplyTimeouts   prometheus.Counter
}

// New constructs and registers a fresh metrics Registry against reg. Pass
// prometheus.DefaultRegisterer for normal process-wide use, or a fresh
// prometheus.NewRegistry() in tests to avoid collisions across test runs.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		ConsumerRestarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mq_connector_consumer_restarts_total",
			Help: "Total number of supervisor-initiated consumer restarts.",
		}, []string{"consumer"}),
		RestartBudgetExceeded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mq_connector_restart_budget_exceeded_total",
			Help: "Total number of times a consumer's restart budget was exhausted.",
		}, []string{"consumer"}),
		WorkersConsuming: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mq_connector_workers_consuming",
			Help: "Number of consumer workers currently in the consuming state.",
		}),
		HeartbeatsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "mq_connector_heartbeats_published_total",
			Help: "Total number of heartbeat envelopes successfully published.",
		}),
		HeartbeatFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mq_connector_heartbeat_failures_total",
			Help: "Total number of heartbeat publish attempts that exhausted retries.",
		}),
		MessagesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mq_connector_messages_emitted_total",
			Help: "Total number of messages published via the publisher API.",
		}, []string{"exchange_type"}),
		RequestReplyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mq_connector_request_reply_latency_seconds",
			Help:    "Round-trip latency of request_reply calls.",
			Buckets: prometheus.DefBuckets,
		}),
		RequestReplyTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "mq_connector_request_reply_timeouts_total",
			Help: "Total number of request_reply calls that timed out.",
		}),
	}
}
