// Package metrics provides Prometheus metrics for portal operations.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for portal operations.
// A nil *Metrics and one built with a nil registerer are both no-ops.
type Metrics struct {
	enabled bool

	// Gateway metrics
	gatewayRequestsTotal   *prometheus.CounterVec
	gatewayRequestDuration *prometheus.HistogramVec

	// Session metrics
	loginsTotal        *prometheus.CounterVec
	sessionResetsTotal *prometheus.CounterVec

	// Policy metrics
	guardDecisionsTotal *prometheus.CounterVec
	policyDenialsTotal  *prometheus.CounterVec
}

// New creates metrics and registers them with reg.
// If reg is nil, returns a no-op Metrics instance.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{enabled: reg != nil}
	if !m.enabled {
		return m
	}
	factory := promauto.With(reg)

	m.gatewayRequestsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_gateway_requests_total",
		Help: "Backend requests issued through the gateway",
	}, []string{"method", "status"})

	m.gatewayRequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_gateway_request_duration_seconds",
		Help:    "Backend request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	m.loginsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_logins_total",
		Help: "Login attempts by result",
	}, []string{"result"})

	m.sessionResetsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_session_resets_total",
		Help: "Sessions reset to unauthenticated, by reason",
	}, []string{"reason"})

	m.guardDecisionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_guard_decisions_total",
		Help: "Route guard decisions by state",
	}, []string{"state"})

	m.policyDenialsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_policy_denials_total",
		Help: "Capability checks denied, by capability",
	}, []string{"capability"})

	return m
}

func (m *Metrics) on() bool { return m != nil && m.enabled }

// RecordGatewayRequest records one backend round trip.
func (m *Metrics) RecordGatewayRequest(method, status string, durationSeconds float64) {
	if !m.on() {
		return
	}
	m.gatewayRequestsTotal.WithLabelValues(method, status).Inc()
	m.gatewayRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordLogin records a login attempt ("success", "rejected", "invalid_credential").
func (m *Metrics) RecordLogin(result string) {
	if !m.on() {
		return
	}
	m.loginsTotal.WithLabelValues(result).Inc()
}

// RecordSessionReset records a transition to unauthenticated
// ("logout", "unauthorized", "invalid_credential").
func (m *Metrics) RecordSessionReset(reason string) {
	if !m.on() {
		return
	}
	m.sessionResetsTotal.WithLabelValues(reason).Inc()
}

// RecordGuardDecision records a route guard outcome.
func (m *Metrics) RecordGuardDecision(state string) {
	if !m.on() {
		return
	}
	m.guardDecisionsTotal.WithLabelValues(state).Inc()
}

// RecordPolicyDenial records a denied capability check.
func (m *Metrics) RecordPolicyDenial(capability string) {
	if !m.on() {
		return
	}
	m.policyDenialsTotal.WithLabelValues(capability).Inc()
}
