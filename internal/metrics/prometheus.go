// Package metrics exposes registry and distribution counters to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vibebiz"

// Metrics holds every collector the registry exports.
type Metrics struct {
	Verifications   *prometheus.CounterVec
	GrantsIssued    prometheus.Counter
	GrantDenials    *prometheus.CounterVec
	Downloads       *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetentionPurged prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "license_verifications_total",
			Help:      "License verifications by resulting status.",
		}, []string{"status"}),
		GrantsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_issued_total",
			Help:      "Download grants issued.",
		}),
		GrantDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grant_denials_total",
			Help:      "Download requests denied by reason.",
		}, []string{"reason"}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downloads_total",
			Help:      "Grant redemptions by outcome.",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter.",
		}, []string{"route"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		RetentionPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_entries_purged_total",
			Help:      "Usage log entries removed by the retention job.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Verifications, m.GrantsIssued, m.GrantDenials, m.Downloads,
		m.RateLimited, m.RequestDuration, m.RetentionPurged,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return m, nil
}

// RecordVerification counts a registry verification.
func (m *Metrics) RecordVerification(status string) {
	m.Verifications.WithLabelValues(status).Inc()
}

// GrantIssued counts an issued download grant.
func (m *Metrics) GrantIssued() {
	m.GrantsIssued.Inc()
}

// GrantDenied counts a refused download request.
func (m *Metrics) GrantDenied(reason string) {
	m.GrantDenials.WithLabelValues(reason).Inc()
}

// Download counts a grant redemption outcome.
func (m *Metrics) Download(outcome string) {
	m.Downloads.WithLabelValues(outcome).Inc()
}

// RecordRateLimited counts a request rejected on route.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimited.WithLabelValues(route).Inc()
}

// ObserveRequest records how long a request took.
func (m *Metrics) ObserveRequest(method, route string, status int, d time.Duration) {
	m.RequestDuration.WithLabelValues(method, route, fmt.Sprintf("%d", status)).Observe(d.Seconds())
}

// RecordRetention counts usage entries removed by one retention run.
func (m *Metrics) RecordRetention(deleted int64) {
	m.RetentionPurged.Add(float64(deleted))
}
