package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "correlation_regime"

var (
	// Labels: stress (calm, normal, stress, not_available), correlation (low, moderate, high, not_available)
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "completed_total",
		Help:      "Completed analyses by stress regime and correlation level",
	}, []string{"stress", "correlation"})

	// Labels: kind (user, internal, data_source)
	analysisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "errors_total",
		Help:      "Failed analyses by error kind",
	}, []string{"kind"})

	analysisDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "duration_seconds",
		Help:      "End-to-end analysis latency in seconds",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"source"})

	noiseFraction = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "rmt",
		Name:      "noise_fraction",
		Help:      "Share of eigenvalues inside the Marchenko-Pastur band",
		Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
	})

	// Labels: result (hit, miss, error)
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Analysis cache lookups by result",
	}, []string{"result"})

	// Labels: status (sent, failed, skipped)
	notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "notifications",
		Name:      "stress_alerts_total",
		Help:      "Stress alerts by delivery status",
	}, []string{"status"})
)

// Error kinds for RecordAnalysisError.
const (
	ErrorKindUser       = "user"
	ErrorKindInternal   = "internal"
	ErrorKindDataSource = "data_source"
)

// Cache results for RecordCacheLookup.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

// RecordAnalysis counts a completed analysis and observes its latency.
// source is "computed" or "cache".
func RecordAnalysis(stress, correlation, source string, elapsed time.Duration) {
	analysesTotal.WithLabelValues(stress, correlation).Inc()
	analysisDuration.WithLabelValues(source).Observe(elapsed.Seconds())
}

func RecordAnalysisError(kind string) {
	analysisErrors.WithLabelValues(kind).Inc()
}

func RecordNoiseFraction(fraction float64) {
	noiseFraction.Observe(fraction)
}

func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

func RecordNotification(status string) {
	notifications.WithLabelValues(status).Inc()
}
