package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "entrance"

// Route labels for requests.
const (
	RouteDefault    = "default"
	RouteOptional   = "optional"
	RouteUnroutable = "unroutable"
)

// Metrics holds the gateway's Prometheus collectors on a private registry.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive     prometheus.Gauge
	requestsTotal      *prometheus.CounterVec // req_type, route
	requestDuration    *prometheus.HistogramVec
	notificationsTotal *prometheus.CounterVec // nfn_type
	rpcFailuresTotal   *prometheus.CounterVec // req_type
	featuresActive     *prometheus.GaugeVec   // feature
	stateChangesTotal  *prometheus.CounterVec // feature, state
	targetState        *prometheus.GaugeVec   // target, feature
}

// NewMetrics creates and registers every collector, plus the Go runtime
// and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of open websocket sessions",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Inbound requests by type and dispatch route",
		}, []string{"req_type", "route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a request",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"req_type"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outbound notifications by type",
		}, []string{"nfn_type"}),
		rpcFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_failures_total",
			Help:      "Requests whose handler failed",
		}, []string{"req_type"}),
		featuresActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "features_active",
			Help:      "Feature instances currently registered across sessions",
		}, []string{"feature"}),
		stateChangesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state_changes_total",
			Help:      "Aggregate state changes of target features",
		}, []string{"feature", "state"}),
		targetState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "state_level",
			Help:      "Latest aggregate state ordinal per target feature (0 = DISCONNECTED)",
		}, []string{"target", "feature"}),
	}

	m.registry.MustRegister(
		m.sessionsActive,
		m.requestsTotal,
		m.requestDuration,
		m.notificationsTotal,
		m.rpcFailuresTotal,
		m.featuresActive,
		m.stateChangesTotal,
		m.targetState,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
}

// Request counts an inbound request; route is one of the Route constants.
func (m *Metrics) Request(reqType, route string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(reqType, route).Inc()
}

func (m *Metrics) ObserveHandle(reqType string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(reqType).Observe(d.Seconds())
}

func (m *Metrics) Notification(nfnType string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(nfnType).Inc()
}

func (m *Metrics) RPCFailure(reqType string) {
	if m == nil {
		return
	}
	m.rpcFailuresTotal.WithLabelValues(reqType).Inc()
}

func (m *Metrics) FeatureStarted(name string) {
	if m == nil {
		return
	}
	m.featuresActive.WithLabelValues(name).Inc()
}

func (m *Metrics) FeatureStopped(name string) {
	if m == nil {
		return
	}
	m.featuresActive.WithLabelValues(name).Dec()
}
