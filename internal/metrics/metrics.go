// Package metrics holds the Prometheus collectors of the messaging engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unitalk"

// Outcome label values
const (
	OutcomeOK     = "ok"
	OutcomeFailed = "failed"
	OutcomeCached = "cached"
	OutcomeSkip   = "skipped"
)

type Metrics struct {
	registry *prometheus.Registry

	messagesDispatched *prometheus.CounterVec
	translations       *prometheus.CounterVec
	pushes             *prometheus.CounterVec
	transportFailures  *prometheus.CounterVec
	liveConnections    prometheus.Gauge
	readReceipts       prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		messagesDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dispatched_total",
			Help:      "Messages persisted and fanned out, by conversation kind.",
		}, []string{"kind"}),
		translations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "translations_total",
			Help:      "Per-target translation outcomes.",
		}, []string{"outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_notifications_total",
			Help:      "Push notification outcomes, by provider.",
		}, []string{"provider", "outcome"}),
		transportFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_failures_total",
			Help:      "Failed deliveries to live connections or the cluster bus.",
		}, []string{"stage"}),
		liveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_connections",
			Help:      "Connections registered on this instance.",
		}),
		readReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_read_total",
			Help:      "Messages transitioned to read.",
		}),
	}
	reg.MustRegister(
		m.messagesDispatched,
		m.translations,
		m.pushes,
		m.transportFailures,
		m.liveConnections,
		m.readReceipts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) MessageDispatched(kind string) {
	if m == nil {
		return
	}
	m.messagesDispatched.WithLabelValues(kind).Inc()
}

func (m *Metrics) Translation(outcome string) {
	if m == nil {
		return
	}
	m.translations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Push(provider, outcome string) {
	if m == nil {
		return
	}
	m.pushes.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) TransportFailure(stage string) {
	if m == nil {
		return
	}
	m.transportFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.liveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.liveConnections.Dec()
}

func (m *Metrics) MessagesRead(n int) {
	if m == nil {
		return
	}
	m.readReceipts.Add(float64(n))
}
