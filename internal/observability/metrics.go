package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records step outcomes. A nil *Metrics is valid and records nothing,
// so components can take one unconditionally.
type Metrics struct {
	steps    *prometheus.CounterVec
	duration *prometheus.HistogramVec
	retries  prometheus.Counter
	sessions prometheus.Gauge
}

// NewMetrics builds the collectors and registers them with reg when it is not nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Steps executed, by intent kind and terminal status.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of a step from parse to verdict.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_retries_total",
			Help:      "Action re-attempts caused by transient browser failures.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.steps, m.duration, m.retries, m.sessions)
	}
	return m
}

// ObserveStep records one finished step.
func (m *Metrics) ObserveStep(kind, status string, d time.Duration, retries int) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.steps.WithLabelValues(kind, status).Inc()
	m.duration.WithLabelValues(kind).Observe(d.Seconds())
	if retries > 0 {
		m.retries.Add(float64(retries))
	}
}

// SessionStarted increments the open-session gauge.
func (m *Metrics) SessionStarted() {
	if m != nil {
		m.sessions.Inc()
	}
}

// SessionEnded decrements the open-session gauge.
func (m *Metrics) SessionEnded() {
	if m != nil {
		m.sessions.Dec()
	}
}
