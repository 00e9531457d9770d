package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.ObserveStep("click", "success", 120*time.Millisecond, 1)
	m.ObserveStep("click", "failed", 80*time.Millisecond, 0)
	m.ObserveStep("", "failed", time.Millisecond, 2)
	m.SessionStarted()
	m.SessionStarted()
	m.SessionEnded()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("click", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.steps.WithLabelValues("unknown", "failed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.retries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))

	count, err := testutil.GatherAndCount(reg, "test_step_duration_seconds")
	assert.NoError(t, err)
	assert.Equal(t, 2, count, "one histogram series per kind")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveStep("click", "success", time.Second, 3)
		m.SessionStarted()
		m.SessionEnded()
	})
}
