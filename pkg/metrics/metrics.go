// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mercybot_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"method", "route", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercybot_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// CompletionDuration tracks completion call latency.
	CompletionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mercybot_completion_duration_seconds",
			Help:    "Completion call duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"provider", "outcome"},
	)

	// CompletionTokensTotal tracks tokens reported by the provider.
	CompletionTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercybot_completion_tokens_total",
			Help: "Total completion tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// FallbackRepliesTotal counts replies replaced by the fallback text.
	FallbackRepliesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercybot_fallback_replies_total",
			Help: "Replies replaced by the fallback text",
		},
		[]string{"reason"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mercybot_conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages appended.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercybot_messages_total",
			Help: "Total messages appended",
		},
		[]string{"role"},
	)

	// ExtractionsTotal tracks document extractions by outcome.
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mercybot_document_extractions_total",
			Help: "Document extractions by outcome",
		},
		[]string{"outcome"},
	)

	// EventsPublishFailures counts conversation events that could not be published.
	EventsPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mercybot_event_publish_failures_total",
			Help: "Conversation events that failed to publish",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, route, status string, duration float64) {
	RequestDuration.WithLabelValues(method, route, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, route, status).Inc()
}

// RecordCompletion records metrics for a completion call.
func RecordCompletion(provider, outcome string, duration float64, tokensIn, tokensOut int) {
	CompletionDuration.WithLabelValues(provider, outcome).Observe(duration)
	if tokensIn > 0 {
		CompletionTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		CompletionTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
	}
}
