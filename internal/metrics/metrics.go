package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the scheduling engine.
type Metrics struct {
	// ChecksTotal counts availability decisions by operation and outcome.
	ChecksTotal *prometheus.CounterVec

	// DenialsTotal counts denials by machine-readable reason.
	DenialsTotal *prometheus.CounterVec

	// OverrideConsumedTotal is the total number of override uses granted.
	OverrideConsumedTotal prometheus.Counter

	// OverrideRejectedTotal counts refused override validations by reason.
	OverrideRejectedTotal *prometheus.CounterVec

	// ActiveSessions is the current number of live test attempts.
	ActiveSessions prometheus.GaugeFunc

	// SessionsExpiredTotal counts sessions removed past their grace deadline.
	SessionsExpiredTotal prometheus.Counter

	// CheckDuration is the time to answer one availability check.
	CheckDuration prometheus.Histogram

	// HTTPRequestsTotal counts API requests by endpoint.
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers Prometheus metrics for the engine.
// activeSessions feeds the live-attempts gauge on every scrape.
func NewMetrics(namespace string, activeSessions func() float64) *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Total number of availability decisions",
			},
			[]string{"operation", "outcome"},
		),

		DenialsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "denials_total",
				Help:      "Total number of denials by reason",
			},
			[]string{"reason"},
		),

		OverrideConsumedTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "override_consumed_total",
				Help:      "Total number of override uses granted",
			},
		),

		OverrideRejectedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "override_rejected_total",
				Help:      "Total number of refused override validations",
			},
			[]string{"reason"},
		),

		ActiveSessions: promauto.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Current number of live test attempts",
			},
			activeSessions,
		),

		SessionsExpiredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Total number of sessions removed past grace",
			},
		),

		CheckDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Time to answer one availability check",
				Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1},
			},
		),

		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests by endpoint",
			},
			[]string{"endpoint"},
		),
	}
}

// IncCheck counts one decision for an operation.
func (m *Metrics) IncCheck(operation string, allowed bool) {
	outcome := "denied"
	if allowed {
		outcome = "allowed"
	}
	m.ChecksTotal.WithLabelValues(operation, outcome).Inc()
}

// IncDenial counts one denial by reason.
func (m *Metrics) IncDenial(reason string) {
	m.DenialsTotal.WithLabelValues(reason).Inc()
}

// IncOverrideConsumed counts one granted override use.
func (m *Metrics) IncOverrideConsumed() {
	m.OverrideConsumedTotal.Inc()
}

// IncOverrideRejected counts one refused override validation.
func (m *Metrics) IncOverrideRejected(reason string) {
	m.OverrideRejectedTotal.WithLabelValues(reason).Inc()
}

// IncSessionsExpired counts sessions swept past their deadline.
func (m *Metrics) IncSessionsExpired(count int) {
	m.SessionsExpiredTotal.Add(float64(count))
}

// ObserveCheckDuration records the time taken for one check.
func (m *Metrics) ObserveCheckDuration(seconds float64) {
	m.CheckDuration.Observe(seconds)
}

// IncHTTP counts one API request for an endpoint.
func (m *Metrics) IncHTTP(endpoint string) {
	m.HTTPRequestsTotal.WithLabelValues(endpoint).Inc()
}
