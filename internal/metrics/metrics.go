package metrics

import (
	"attendify/internal/checkin"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes check-in pipeline counters and timings.
type Metrics struct {
	attempts *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration prometheus.Histogram
}

// New registers the collectors with the default registry.
func New() *Metrics {
	return &Metrics{
		attempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attendify_checkin_attempts_total",
			Help: "Terminal check-in attempts by final status.",
		}, []string{"status"}),
		failures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attendify_checkin_failures_total",
			Help: "Failed check-in attempts by reason.",
		}, []string{"reason"}),
		duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendify_checkin_duration_seconds",
			Help:    "Wall time of a check-in attempt from start to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}
}

// ObserveAttempt records a terminal attempt.
func (m *Metrics) ObserveAttempt(attempt *checkin.Attempt) {
	if !attempt.Terminal() {
		return
	}
	m.attempts.WithLabelValues(string(attempt.FinalStatus)).Inc()
	if attempt.FinalStatus == checkin.StatusFailed {
		m.failures.WithLabelValues(string(attempt.FailReason)).Inc()
	}
	if attempt.CompletedAt != nil {
		m.duration.Observe(attempt.CompletedAt.Sub(attempt.StartedAt).Seconds())
	}
}
