// Package metric provides Prometheus metrics for the chat client.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the client-level metrics shared across components.
type Metrics struct {
	// Connection metrics
	ConnectionState prometheus.Gauge
	Reconnects      prometheus.Counter
	ConnectFailures prometheus.Counter

	// Delivery metrics
	MessagesSent     prometheus.Counter
	MessagesFailed   prometheus.Counter
	MessagesRetried  prometheus.Counter
	MessagesDeduped  prometheus.Counter
	MessagesReceived *prometheus.CounterVec
	PendingDepth     prometheus.Gauge
	SentRetained     prometheus.Gauge
	AckLatency       prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with all client metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chatclient",
				Subsystem: "connection",
				Name:      "state",
				Help:      "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
			},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "connection",
				Name:      "reconnects_total",
				Help:      "Total number of successful reconnections",
			},
		),

		ConnectFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "connection",
				Name:      "failures_total",
				Help:      "Total number of failed connection attempts",
			},
		),

		MessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "sent_total",
				Help:      "Total number of messages confirmed sent",
			},
		),

		MessagesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "failed_total",
				Help:      "Total number of messages that exhausted their retry budget",
			},
		),

		MessagesRetried: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "retried_total",
				Help:      "Total number of message retransmission attempts",
			},
		),

		MessagesDeduped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "deduplicated_total",
				Help:      "Total number of duplicate submissions rejected",
			},
		),

		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chatclient",
				Subsystem: "inbound",
				Name:      "received_total",
				Help:      "Total number of inbound events received",
			},
			[]string{"type"},
		),

		PendingDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "pending_depth",
				Help:      "Number of messages awaiting acknowledgment",
			},
		),

		SentRetained: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "sent_retained",
				Help:      "Number of sent ids retained for deduplication",
			},
		),

		AckLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "chatclient",
				Subsystem: "outbound",
				Name:      "ack_latency_seconds",
				Help:      "Time between transmission and server acknowledgment",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}
}
