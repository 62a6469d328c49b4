package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quorumgate"

// Metrics holds the attestation collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	sessions   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	detections *prometheus.CounterVec
	lateShares prometheus.Counter
	retries    prometheus.Counter
	duration   prometheus.Histogram
	certSize   prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Attestation sessions by result.",
		}, []string{"result"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed sessions by failure reason.",
		}, []string{"reason"}),
		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Byzantine detections by kind.",
		}, []string{"kind"}),
		lateShares: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "late_shares_total",
			Help:      "Valid shares that arrived after their certificate was frozen.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Attempts rerun with a fresh request id.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time of a session including retries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		certSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "certificate_size",
			Help:      "Shares included in a frozen certificate.",
			Buckets:   prometheus.LinearBuckets(1, 2, 16),
		}),
	}

	collectors := []prometheus.Collector{
		m.sessions, m.failures, m.detections, m.lateShares, m.retries, m.duration, m.certSize,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector:\n%w", err)
		}
	}

	return m, nil
}

// ObserveSession records one finished session. reason is empty on success.
func (m *Metrics) ObserveSession(certified bool, reason string, shares int, d time.Duration) {
	if m == nil {
		return
	}

	m.duration.Observe(d.Seconds())

	if certified {
		m.sessions.WithLabelValues("certified").Inc()
		m.certSize.Observe(float64(shares))
		return
	}

	m.sessions.WithLabelValues("failed").Inc()
	m.failures.WithLabelValues(reason).Inc()
}

// Detection counts one Byzantine detection.
func (m *Metrics) Detection(kind string) {
	if m == nil {
		return
	}

	m.detections.WithLabelValues(kind).Inc()
}

// LateShares counts valid shares dropped after a freeze.
func (m *Metrics) LateShares(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.lateShares.Add(float64(n))
}

// Retry counts one retried attempt.
func (m *Metrics) Retry() {
	if m == nil {
		return
	}

	m.retries.Inc()
}
