package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration observes request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relaydesk_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	// ActiveConnections tracks currently registered live connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relaydesk_active_connections",
		Help: "Live connections currently registered",
	})

	// MessagesTotal counts appended messages by type.
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_messages_total",
		Help: "Messages appended",
	}, []string{"type"})

	// EventsPushed counts events delivered to live connections.
	EventsPushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relaydesk_events_pushed_total",
		Help: "Events pushed to live connections",
	}, []string{"event"})

	// DeliveryRetries counts delivery attempts that were rescheduled.
	DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_delivery_retries_total",
		Help: "Queued deliveries rescheduled for retry",
	})

	// DeliveryFailures counts deliveries that exhausted their retries.
	DeliveryFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_delivery_failures_total",
		Help: "Queued deliveries marked permanently failed",
	})

	// StaleConnectionsSwept counts connections torn down by the sweep.
	StaleConnectionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relaydesk_stale_connections_swept_total",
		Help: "Connections removed for missing heartbeats",
	})
)
