// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/theranote/theranote/internal/auth"
)

var _ auth.MetricsRecorder = (*AuthMetrics)(nil)

// AuthMetrics records authentication counters to Prometheus.
type AuthMetrics struct {
	LoginsTotal        *prometheus.CounterVec
	RegistrationsTotal *prometheus.CounterVec
	LockoutsTotal      prometheus.Counter
	SoftFailsTotal     *prometheus.CounterVec
	RedemptionsTotal   *prometheus.CounterVec
}

// NewAuthMetrics creates the auth counters and registers them with reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		LoginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theranote_auth_login_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}),
		RegistrationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theranote_auth_registrations_total",
			Help: "Registration attempts by outcome",
		}, []string{"outcome"}),
		LockoutsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "theranote_auth_lockouts_total",
			Help: "Accounts locked after repeated failed logins",
		}),
		SoftFailsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theranote_auth_upstream_softfail_total",
			Help: "Upstream collaborator calls that failed open",
		}, []string{"collaborator"}),
		RedemptionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theranote_auth_token_redemptions_total",
			Help: "Single-use token redemptions by purpose and outcome",
		}, []string{"purpose", "outcome"}),
	}
	reg.MustRegister(m.LoginsTotal, m.RegistrationsTotal, m.LockoutsTotal, m.SoftFailsTotal, m.RedemptionsTotal)
	return m
}

func (m *AuthMetrics) LoginAttempt(outcome string) { m.LoginsTotal.WithLabelValues(outcome).Inc() }

func (m *AuthMetrics) Registration(outcome string) { m.RegistrationsTotal.WithLabelValues(outcome).Inc() }

func (m *AuthMetrics) Lockout() { m.LockoutsTotal.Inc() }

func (m *AuthMetrics) UpstreamSoftFail(collaborator string) {
	m.SoftFailsTotal.WithLabelValues(collaborator).Inc()
}

func (m *AuthMetrics) TokenRedemption(purpose, outcome string) {
	m.RedemptionsTotal.WithLabelValues(purpose, outcome).Inc()
}

// HTTPMetrics records API request counts and latency.
type HTTPMetrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewHTTPMetrics creates the request metrics and registers them with reg.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "theranote_http_requests_total",
			Help: "API requests by route and status code",
		}, []string{"route", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "theranote_http_request_duration_seconds",
			Help: "API request latency by route",
			// login responses sit at the latency floor, so buckets start near it
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5},
		}, []string{"route"}),
	}
	reg.MustRegister(m.RequestsTotal, m.RequestDuration)
	return m
}
