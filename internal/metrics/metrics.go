// Package metrics exposes Prometheus counters for the console.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/angel-console/internal/angel"
	"github.com/ashureev/angel-console/internal/domain"
)

const namespace = "angel_console"

// Metrics holds the console collectors. It implements the observer
// interfaces of the angel, venture and notify packages.
type Metrics struct {
	registry *prometheus.Registry

	refreshes   *prometheus.CounterVec
	queued      prometheus.Counter
	failures    *prometheus.CounterVec
	exchanges   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	notices     *prometheus.CounterVec
	evictions   prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_queued_requests_total",
			Help:      "Requests that waited for an in-flight token refresh.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_call_failures_total",
			Help:      "Failed Angel API calls by error kind.",
		}, []string{"kind"}),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_exchanges_total",
			Help:      "Completed chat exchanges by resulting phase.",
		}, []string{"phase"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Transition views entered by kind.",
		}, []string{"kind"}),
		notices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notices_total",
			Help:      "User notices by kind and whether a browser tab received them.",
		}, []string{"kind", "delivered"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "venture_evictions_total",
			Help:      "Idle venture conversations evicted from memory.",
		}),
	}
	reg.MustRegister(
		m.refreshes, m.queued, m.failures, m.exchanges, m.transitions, m.notices, m.evictions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// RefreshFinished implements angel.Observer.
func (m *Metrics) RefreshFinished(outcome string) { m.refreshes.WithLabelValues(outcome).Inc() }

// RequestQueued implements angel.Observer.
func (m *Metrics) RequestQueued() { m.queued.Inc() }

// CallFailed implements angel.Observer.
func (m *Metrics) CallFailed(kind angel.Kind) { m.failures.WithLabelValues(string(kind)).Inc() }

// ExchangeCompleted implements venture.Observer.
func (m *Metrics) ExchangeCompleted(phase domain.Phase) {
	m.exchanges.WithLabelValues(string(phase)).Inc()
}

// TransitionEntered implements venture.Observer.
func (m *Metrics) TransitionEntered(kind domain.TransitionKind) {
	m.transitions.WithLabelValues(string(kind)).Inc()
}

// NoticeSent implements notify.Observer.
func (m *Metrics) NoticeSent(kind angel.Kind, delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	m.notices.WithLabelValues(string(kind), label).Inc()
}

// VenturesEvicted records idle conversations dropped by the sweeper.
func (m *Metrics) VenturesEvicted(n int) { m.evictions.Add(float64(n)) }
