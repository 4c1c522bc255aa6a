package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	eventsReceived     *prometheus.CounterVec
	eventsDuplicate    *prometheus.CounterVec
	eventsProcessed    *prometheus.CounterVec
	eventsErrors       *prometheus.CounterVec
	enrichmentDuration *prometheus.HistogramVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
	httpErrors         *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors for webhook dispatch and
// enrichment observability.
func RegisterMetrics() {
	registerOnce.Do(func() {
		eventsReceived = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_received_total",
			Help: "Total number of webhook events accepted for processing.",
		}, []string{"event_type"})

		eventsDuplicate = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_duplicate_total",
			Help: "Total number of webhook events suppressed by the idempotency gate.",
		}, []string{"event_type"})

		eventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_processed_total",
			Help: "Total number of webhook events fully processed.",
		}, []string{"event_type"})

		eventsErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webhook_events_errors_total",
			Help: "Total number of webhook events whose processing failed.",
		}, []string{"event_type"})

		enrichmentDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "enrichment_duration_seconds",
			Help:    "Duration of enrichment pipeline runs.",
			Buckets: []float64{0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		}, []string{"pipeline"})

		httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "route", "status"})

		httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Latency of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_errors_total",
			Help: "Total number of HTTP requests that returned an error status.",
		}, []string{"method", "route", "status"})

		prometheus.MustRegister(
			eventsReceived, eventsDuplicate, eventsProcessed, eventsErrors, enrichmentDuration,
			httpRequests, httpLatency, httpErrors,
		)
	})
}

// EventsReceived exposes the received-events counter.
func EventsReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsReceived
}

// EventsDuplicate exposes the duplicate-events counter.
func EventsDuplicate() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsDuplicate
}

// EventsProcessed exposes the processed-events counter.
func EventsProcessed() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsProcessed
}

// EventsErrors exposes the errored-events counter.
func EventsErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsErrors
}

// EnrichmentDuration exposes the pipeline duration histogram.
func EnrichmentDuration() *prometheus.HistogramVec {
	RegisterMetrics()
	return enrichmentDuration
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequests
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatency
}

// HTTPErrors exposes the request error counter.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrors
}
