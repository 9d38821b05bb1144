package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)
	return m
}

func TestVerificationCounter(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordVerification("valid")
	m.RecordVerification("valid")
	m.RecordVerification("revoked")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Verifications.WithLabelValues("valid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Verifications.WithLabelValues("revoked")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Verifications.WithLabelValues("expired")))
}

func TestDistributionCounters(t *testing.T) {
	m := newTestMetrics(t)

	m.GrantIssued()
	m.GrantDenied("tier_insufficient")
	m.GrantDenied("dependency_missing")
	m.GrantDenied("tier_insufficient")
	m.Download("served")
	m.Download("consumed")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GrantsIssued))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.GrantDenials.WithLabelValues("tier_insufficient")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Downloads.WithLabelValues("consumed")))
}

func TestRateLimitedAndRetention(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordRateLimited("/api/v1/licenses/verify")
	m.RecordRetention(40)
	m.RecordRetention(2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimited.WithLabelValues("/api/v1/licenses/verify")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.RetentionPurged))
}

func TestRequestDuration(t *testing.T) {
	m := newTestMetrics(t)

	m.ObserveRequest("GET", "/health", 200, 150*time.Millisecond)
	m.ObserveRequest("GET", "/health", 200, 50*time.Millisecond)

	var metric dto.Metric
	require.NoError(t, m.RequestDuration.WithLabelValues("GET", "/health", "200").(prometheus.Metric).Write(&metric))
	assert.Equal(t, uint64(2), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 0.2, metric.GetHistogram().GetSampleSum(), 1e-9)
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}
