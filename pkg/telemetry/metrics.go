// Package telemetry bundles the gateway's Prometheus metrics and OpenTelemetry
// tracer setup. Both are injected into the manager and the gateway; nothing
// here registers global state.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mcpgateway"

// Metrics holds every collector on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	BackendConnects  *prometheus.CounterVec
	BackendsLive     prometheus.Gauge
	ToolCalls        *prometheus.CounterVec
	ToolCallDuration *prometheus.HistogramVec
	CatalogRebuilds  prometheus.Counter
	CatalogTools     prometheus.Gauge
	BackendListings  *prometheus.CounterVec
	Notifications    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		BackendConnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "connects_total",
			Help:      "Backend connection attempts by outcome.",
		}, []string{"backend", "status"}),
		BackendsLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "live",
			Help:      "Backends currently in the connected state.",
		}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Routed tool calls by backend and outcome.",
		}, []string{"backend", "status"}),
		ToolCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "call_duration_seconds",
			Help:      "Routed tool call latency in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend"}),
		CatalogRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "rebuilds_total",
			Help:      "Catalog aggregations performed.",
		}),
		CatalogTools: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "tools",
			Help:      "Tools in the most recently published catalog.",
		}),
		BackendListings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backend",
			Name:      "listings_total",
			Help:      "Per-backend tool listings by outcome.",
		}, []string{"backend", "status"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifier",
			Name:      "deliveries_total",
			Help:      "Change notification deliveries by outcome.",
		}, []string{"status"}),
	}
	reg.MustRegister(
		m.BackendConnects,
		m.BackendsLive,
		m.ToolCalls,
		m.ToolCallDuration,
		m.CatalogRebuilds,
		m.CatalogTools,
		m.BackendListings,
		m.Notifications,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func (m *Metrics) ObserveConnect(backend string, err error) {
	if m == nil {
		return
	}
	m.BackendConnects.WithLabelValues(backend, status(err)).Inc()
}

func (m *Metrics) SetLive(n int) {
	if m == nil {
		return
	}
	m.BackendsLive.Set(float64(n))
}

func (m *Metrics) ObserveCall(backend string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(backend, status(err)).Inc()
	m.ToolCallDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveListing(backend string, err error) {
	if m == nil {
		return
	}
	m.BackendListings.WithLabelValues(backend, status(err)).Inc()
}

func (m *Metrics) ObserveCatalog(tools int) {
	if m == nil {
		return
	}
	m.CatalogRebuilds.Inc()
	m.CatalogTools.Set(float64(tools))
}

func (m *Metrics) ObserveNotification(err error) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
