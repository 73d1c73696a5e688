package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbit_tail_messages_received_total",
			Help: "Total number of deliveries handed to the pipeline (count)",
		},
		[]string{"exchange"},
	)

	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbit_tail_messages_processed_total",
			Help: "Total number of deliveries by outcome (count)",
		},
		[]string{"status"},
	)

	MessageSizeBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rabbit_tail_message_size_bytes",
			Help:    "Payload size of received deliveries in bytes",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rabbit_tail_processing_duration_ms",
			Help:    "Time from delivery to output in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 25, 50, 100, 250},
		},
		[]string{"status"},
	)

	BindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rabbit_tail_bindings_total",
			Help: "Total number of binding attempts by outcome (count)",
		},
		[]string{"destination", "status"},
	)

	PipelineState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rabbit_tail_pipeline_state",
			Help: "Pipeline state (0=idle, 1=verifying, 2=binding, 3=consuming, 4=stopped, 5=failed) (state code)",
		},
	)

	ConnectionRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rabbit_tail_connection_retries_total",
			Help: "Total number of broker connection retries (count)",
		},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of emits checked against the output rate limit (count)",
		},
		[]string{"status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)
)

const (
	StatusEmitted  = "emitted"
	StatusFiltered = "filtered"
	StatusDecode   = "decode_error"
	StatusFilter   = "filter_error"
	StatusIgnored  = "ignored"
	StatusPanic    = "panic"
)

var registerOnce sync.Once

// Register adds every collector to reg. Only the first call has an effect.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			MessagesReceivedTotal,
			MessagesProcessedTotal,
			MessageSizeBytes,
			ProcessingDuration,
			BindingsTotal,
			PipelineState,
			ConnectionRetriesTotal,
			RateLimitRequestsTotal,
			CircuitBreakerState,
			CircuitBreakerRequests,
			CircuitBreakerFailures,
		)
	})
}

func IncMessagesReceived(exchange string, sizeBytes int) {
	MessagesReceivedTotal.WithLabelValues(exchange).Inc()
	MessageSizeBytes.Observe(float64(sizeBytes))
}

func ObserveProcessed(status string, duration time.Duration) {
	MessagesProcessedTotal.WithLabelValues(status).Inc()
	ProcessingDuration.WithLabelValues(status).Observe(float64(duration.Microseconds()) / 1000)
}

func IncBinding(destination string, ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	BindingsTotal.WithLabelValues(destination, status).Inc()
}

func SetPipelineState(code int) {
	PipelineState.Set(float64(code))
}

func IncConnectionRetries() {
	ConnectionRetriesTotal.Inc()
}
