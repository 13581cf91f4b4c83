// Package metrics exports router counters to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dgnsrekt/linkgate/internal/router"
)

const namespace = "linkgate"

// Metrics holds the linkgate collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Decisions   *prometheus.CounterVec
	Resolutions *prometheus.CounterVec
	Pending     prometheus.Gauge
	Candidates  prometheus.Gauge
}

var _ router.Recorder = (*Metrics)(nil)

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "classifier_decisions_total",
				Help:      "Committed navigations classified, by result and reason.",
			},
			[]string{"result", "reason"},
		),
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "request_resolutions_total",
				Help:      "Pending requests removed, by outcome.",
			},
			[]string{"outcome"},
		),
		Pending: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_requests",
				Help:      "Links currently held waiting for a container choice.",
			},
		),
		Candidates: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "candidate_tabs",
				Help:      "Tabs currently tracked as external-link candidates.",
			},
		),
	}
}

func (m *Metrics) ObserveDecision(accepted bool, reason string) {
	result := "rejected"
	if accepted {
		result = "accepted"
	}
	m.Decisions.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) ObserveResolution(outcome string) {
	m.Resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPending(n int) {
	m.Pending.Set(float64(n))
}

func (m *Metrics) SetCandidates(n int) {
	m.Candidates.Set(float64(n))
}

// Handler serves the Prometheus exposition for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
