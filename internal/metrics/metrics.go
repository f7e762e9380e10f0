package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook delivery outcomes.
const (
	OutcomeAccepted     = "accepted"
	OutcomeDuplicate    = "duplicate"
	OutcomeUnauthorized = "unauthorized"
	OutcomeMalformed    = "malformed"
	OutcomeNoRecipient  = "no_recipient"
	OutcomeError        = "error"
)

var (
	WebhookDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_webhook_deliveries_total",
			Help: "Inbound webhook deliveries by outcome",
		},
		[]string{"outcome"},
	)

	MessagesCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mailbridge_inbound_messages_created_total",
			Help: "Stored inbound message copies created",
		},
	)

	UpstreamCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailbridge_upstream_calls_total",
			Help: "Calls to the provider API by operation and HTTP status",
		},
		[]string{"operation", "status"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailbridge_upstream_latency_seconds",
			Help:    "Provider API call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"operation"},
	)
)

func RecordWebhook(outcome string) {
	WebhookDeliveries.WithLabelValues(outcome).Inc()
}

func AddMessagesCreated(n int) {
	if n > 0 {
		MessagesCreated.Add(float64(n))
	}
}

// RecordUpstreamCall records one provider call. A zero status means the
// call failed before a response arrived.
func RecordUpstreamCall(operation string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	UpstreamCalls.WithLabelValues(operation, label).Inc()
	UpstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}
