// ABOUTME: Prometheus counters for authentication outcomes
// ABOUTME: Implements auth.Recorder on a private registry served by Handler

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/2389/ticketd/internal/auth"
)

// Metrics holds ticketd's collectors.
type Metrics struct {
	registry *prometheus.Registry

	// Verifications counts ticket verifications by outcome.
	Verifications *prometheus.CounterVec
	// Logins counts Remember calls by outcome.
	Logins *prometheus.CounterVec
	// Logouts counts Forget calls by outcome.
	Logouts *prometheus.CounterVec
}

var _ auth.Recorder = (*Metrics)(nil)

// New creates and registers the collectors, plus Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Verifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketd_verifications_total",
				Help: "Ticket verifications",
			},
			[]string{"outcome"},
		),
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketd_logins_total",
				Help: "Ticket issuance attempts",
			},
			[]string{"outcome"},
		),
		Logouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketd_logouts_total",
				Help: "Ticket removal attempts",
			},
			[]string{"outcome"},
		),
	}

	m.registry.MustRegister(
		m.Verifications,
		m.Logins,
		m.Logouts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) RecordVerification(outcome string) {
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLogin(outcome string) {
	m.Logins.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordLogout(outcome string) {
	m.Logouts.WithLabelValues(outcome).Inc()
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
