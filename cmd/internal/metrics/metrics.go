// Package metrics exposes Prometheus instrumentation for the realtime
// client. Everything hangs off one registry so embedders can mount a
// single scrape endpoint.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters the connection manager, router and feeds
// report into.
type Metrics struct {
	reg *prometheus.Registry

	connectAttempts prometheus.Counter
	connectFailures prometheus.Counter
	sessionsLost    prometheus.Counter
	framesRouted    *prometheus.CounterVec
	framesDropped   prometheus.Counter
	reconcilePolls  *prometheus.CounterVec
	deduplicated    *prometheus.CounterVec
}

// New builds a Metrics with its own registry, including the standard Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		connectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayfarer_connect_attempts_total",
			Help: "Websocket dial attempts, including retries.",
		}),
		connectFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayfarer_connect_failures_total",
			Help: "Dial attempts that did not reach a broker session.",
		}),
		sessionsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayfarer_sessions_lost_total",
			Help: "Established sessions dropped by the transport.",
		}),
		framesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayfarer_frames_routed_total",
			Help: "Pushed frames decoded and delivered, by kind.",
		}, []string{"kind"}),
		framesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wayfarer_frames_dropped_total",
			Help: "Pushed frames dropped as malformed.",
		}),
		reconcilePolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayfarer_reconcile_polls_total",
			Help: "Reconciliation poll outcomes, by feed.",
		}, []string{"feed", "outcome"}),
		deduplicated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wayfarer_messages_deduplicated_total",
			Help: "Items discarded because they were already delivered.",
		}, []string{"feed"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectAttempts,
		m.connectFailures,
		m.sessionsLost,
		m.framesRouted,
		m.framesDropped,
		m.reconcilePolls,
		m.deduplicated,
	)
	return m
}

// Handler returns the scrape handler for the bundled registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for embedders that already run
// a scrape endpoint.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) IncConnectAttempts() { m.connectAttempts.Inc() }
func (m *Metrics) IncConnectFailures() { m.connectFailures.Inc() }
func (m *Metrics) IncSessionsLost()    { m.sessionsLost.Inc() }

func (m *Metrics) IncFramesRouted(kind string) { m.framesRouted.WithLabelValues(kind).Inc() }
func (m *Metrics) IncFramesDropped()           { m.framesDropped.Inc() }

// FeedMetrics curries the feed label for the chat and notification
// reconcilers.
type FeedMetrics struct {
	name string
	m    *Metrics
}

// Feed returns the counters scoped to feed name ("chat", "notify").
func (m *Metrics) Feed(name string) *FeedMetrics {
	return &FeedMetrics{name: name, m: m}
}

func (f *FeedMetrics) IncPolls(outcome string) {
	f.m.reconcilePolls.WithLabelValues(f.name, outcome).Inc()
}

func (f *FeedMetrics) IncDeduped() {
	f.m.deduplicated.WithLabelValues(f.name).Inc()
}
