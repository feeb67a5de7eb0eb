package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the citation verification service.
// Metrics are organized by subsystem: verification runs, references, sources and
// the lookup cache. All counters and histograms are registered via promauto
// for automatic registration with the default Prometheus registry.
type Metrics struct {
	// VerificationsStarted counts batch verification runs initiated.
	VerificationsStarted prometheus.Counter

	// VerificationsCompleted counts runs that processed every reference.
	VerificationsCompleted prometheus.Counter

	// VerificationsCancelled counts runs cancelled before all references were checked.
	VerificationsCancelled prometheus.Counter

	// VerificationDuration observes the end-to-end duration of runs in seconds.
	VerificationDuration prometheus.Histogram

	// ReferencesByStatus counts verified references, labeled by final status.
	ReferencesByStatus *prometheus.CounterVec

	// ReferenceDuration observes per-reference verification time in seconds.
	ReferenceDuration prometheus.Histogram

	// SourceRequestsTotal counts requests to external sources, labeled by source and operation.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed source requests, labeled by source, operation, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes source request duration in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRetries counts retry attempts after a transient failure, labeled by source.
	SourceRetries *prometheus.CounterVec

	// SourceUnavailable counts calls demoted to "source unavailable" after retries ran out.
	SourceUnavailable *prometheus.CounterVec

	// SourceRateLimited counts rate-limited responses from sources, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// CacheHits counts lookup cache hits, labeled by source.
	CacheHits *prometheus.CounterVec

	// CacheMisses counts lookup cache misses, labeled by source.
	CacheMisses *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Runs
		VerificationsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_started_total",
			Help:      "Total number of verification runs started",
		}),
		VerificationsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_completed_total",
			Help:      "Total number of verification runs completed",
		}),
		VerificationsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_cancelled_total",
			Help:      "Total number of verification runs cancelled",
		}),
		VerificationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verification_duration_seconds",
			Help:      "Duration of verification runs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		}),

		// References
		ReferencesByStatus: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "references_by_status_total",
			Help:      "Total number of verified references by final status",
		}, []string{"status"}),
		ReferenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reference_verification_duration_seconds",
			Help:      "Duration of a single reference verification in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),

		// Sources
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to bibliographic sources",
		}, []string{"source", "operation"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to bibliographic sources",
		}, []string{"source", "operation", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to bibliographic sources in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"source", "operation"}),
		SourceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_retries_total",
			Help:      "Total number of retries after transient source failures",
		}, []string{"source"}),
		SourceUnavailable: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_unavailable_total",
			Help:      "Total number of source calls that exhausted their retries",
		}, []string{"source"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from sources",
		}, []string{"source"}),

		// Cache
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of lookup cache hits",
		}, []string{"source"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of lookup cache misses",
		}, []string{"source"}),
	}
}

// RecordVerificationStarted records that a run has started.
func (m *Metrics) RecordVerificationStarted() {
	m.VerificationsStarted.Inc()
}

// RecordVerificationCompleted records that a run has completed.
func (m *Metrics) RecordVerificationCompleted(durationSeconds float64) {
	m.VerificationsCompleted.Inc()
	m.VerificationDuration.Observe(durationSeconds)
}

// RecordVerificationCancelled records that a run was cancelled.
func (m *Metrics) RecordVerificationCancelled(durationSeconds float64) {
	m.VerificationsCancelled.Inc()
	m.VerificationDuration.Observe(durationSeconds)
}

// RecordReference records the final status of one reference.
func (m *Metrics) RecordReference(status string, durationSeconds float64) {
	m.ReferencesByStatus.WithLabelValues(status).Inc()
	m.ReferenceDuration.Observe(durationSeconds)
}

// RecordSourceRequest records a request to a source.
func (m *Metrics) RecordSourceRequest(source, operation string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, operation).Inc()
	m.SourceRequestDuration.WithLabelValues(source, operation).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a source.
func (m *Metrics) RecordSourceRequestFailed(source, operation, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, operation, errorType).Inc()
}

// RecordSourceRetry records a retry after a transient failure.
func (m *Metrics) RecordSourceRetry(source string) {
	m.SourceRetries.WithLabelValues(source).Inc()
}

// RecordSourceUnavailable records a call demoted to "source unavailable".
func (m *Metrics) RecordSourceUnavailable(source string) {
	m.SourceUnavailable.WithLabelValues(source).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordCacheHit records a lookup cache hit.
func (m *Metrics) RecordCacheHit(source string) {
	m.CacheHits.WithLabelValues(source).Inc()
}

// RecordCacheMiss records a lookup cache miss.
func (m *Metrics) RecordCacheMiss(source string) {
	m.CacheMisses.WithLabelValues(source).Inc()
}
