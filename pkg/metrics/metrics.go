package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_processed_total",
			Help: "Total number of queue messages processed successfully (count)",
		},
		[]string{"event_type"},
	)

	MessagesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_failed_total",
			Help: "Total number of queue messages that failed permanently (count)",
		},
		[]string{"event_type", "reason"},
	)

	MessagesRetriedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_retried_total",
			Help: "Total number of retry re-publishes scheduled by the pipeline (count)",
		},
		[]string{"event_type"},
	)

	MessagesInvalidTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_messages_invalid_total",
			Help: "Total number of malformed messages acked without processing (count)",
		},
		[]string{"field"},
	)

	DLQMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_dlq_messages_total",
			Help: "Total number of messages routed to the dead-letter queue (count)",
		},
		[]string{"event_type", "reason"},
	)

	MessageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_message_processing_duration_ms",
			Help:    "End-to-end processing duration per message in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"event_type", "status"},
	)

	HealthScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "promotion_health_score",
			Help: "Most recently computed health score per promotion (0-100)",
		},
		[]string{"promotion_id"},
	)

	HealthScoreUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotion_health_score_updates_total",
			Help: "Total number of health score recomputations (count)",
		},
		[]string{"source"},
	)

	DuplicateEventsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "promotion_duplicate_events_total",
			Help: "Total number of replayed events skipped by deduplication (count)",
		},
	)

	ExtractionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extraction_requests_total",
			Help: "Total number of reasoning provider requests (count)",
		},
		[]string{"provider", "status"},
	)

	ExtractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extraction_duration_ms",
			Help:    "Reasoning provider request duration in milliseconds",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"provider"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times a degraded fallback path was used (count)",
		},
		[]string{"component", "reason"},
	)

	RetryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_attempts_total",
			Help: "Total number of in-process retry attempts (count)",
		},
		[]string{"component"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breakers (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed requests through circuit breakers (count)",
		},
		[]string{"name"},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests seen by the rate limiter (count)",
		},
		[]string{"status"},
	)
)

func RegisterPipelineMetrics() {
	prometheus.MustRegister(MessagesProcessedTotal)
	prometheus.MustRegister(MessagesFailedTotal)
	prometheus.MustRegister(MessagesRetriedTotal)
	prometheus.MustRegister(MessagesInvalidTotal)
	prometheus.MustRegister(DLQMessagesTotal)
	prometheus.MustRegister(MessageProcessingDuration)
}

func RegisterScoringMetrics() {
	prometheus.MustRegister(HealthScore)
	prometheus.MustRegister(HealthScoreUpdatesTotal)
	prometheus.MustRegister(DuplicateEventsTotal)
}

func RegisterExtractionMetrics() {
	prometheus.MustRegister(ExtractionRequestsTotal)
	prometheus.MustRegister(ExtractionDuration)
	prometheus.MustRegister(RetryAttemptsTotal)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterAPIMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveProcessingDuration(eventType, status string, duration time.Duration) {
	MessageProcessingDuration.WithLabelValues(eventType, status).Observe(float64(duration.Milliseconds()))
}

func ObserveExtractionDuration(provider string, duration time.Duration) {
	ExtractionDuration.WithLabelValues(provider).Observe(float64(duration.Milliseconds()))
}

func SetHealthScore(promotionID string, score int) {
	HealthScore.WithLabelValues(promotionID).Set(float64(score))
}
