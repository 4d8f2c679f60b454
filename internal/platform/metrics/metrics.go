package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Teardown reasons used as the "reason" label of relay_sessions_torn_down_total.
const (
	ReasonLastSink     = "last_sink"
	ReasonUpstreamExit = "upstream_exit"
	ReasonShutdown     = "shutdown"
)

// Metrics holds Prometheus counters and gauges for the stream relay.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    prometheus.Counter
	errorsTotal      prometheus.Counter
	sessionsActive   prometheus.Gauge
	sharedSessions   prometheus.Gauge
	processesSpawned prometheus.Counter
	spawnFailures    prometheus.Counter
	sinksAttached    prometheus.Gauge
	sinksDropped     prometheus.Counter
	bytesRelayed     prometheus.Counter
	sessionsTornDown *prometheus.CounterVec
}

// New creates and registers Prometheus metrics for the relay.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of HTTP requests received",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sessions_active",
			Help: "Number of sessions (shared and private) that are not dead",
		}),
		sharedSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_shared_sessions",
			Help: "Number of shareable sessions currently in the registry",
		}),
		processesSpawned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_processes_spawned_total",
			Help: "Total number of upstream converter processes started",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_spawn_failures_total",
			Help: "Total number of upstream converter processes that failed to start",
		}),
		sinksAttached: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "relay_sinks_attached",
			Help: "Number of client sinks currently attached to a session",
		}),
		sinksDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_sinks_dropped_total",
			Help: "Total number of client sinks removed after a failed or overflowing write",
		}),
		bytesRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "relay_bytes_relayed_total",
			Help: "Total number of bytes read from upstream processes",
		}),
		sessionsTornDown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_sessions_torn_down_total",
			Help: "Total number of sessions that reached the dead state, by reason",
		}, []string{"reason"}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.sessionsActive,
		m.sharedSessions,
		m.processesSpawned,
		m.spawnFailures,
		m.sinksAttached,
		m.sinksDropped,
		m.bytesRelayed,
		m.sessionsTornDown,
	)

	return m
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// SessionStarted records a new session and its upstream process.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.processesSpawned.Inc()
	m.sessionsActive.Inc()
}

// SessionEnded records a session reaching the dead state.
func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.sessionsTornDown.WithLabelValues(reason).Inc()
}

// IncSpawnFailures increments the failed process start counter.
func (m *Metrics) IncSpawnFailures() {
	if m == nil {
		return
	}
	m.spawnFailures.Inc()
}

// SinkAttached increments the attached sinks gauge.
func (m *Metrics) SinkAttached() {
	if m == nil {
		return
	}
	m.sinksAttached.Inc()
}

// SinkDetached decrements the attached sinks gauge.
func (m *Metrics) SinkDetached() {
	if m == nil {
		return
	}
	m.sinksAttached.Dec()
}

// IncSinksDropped increments the dropped sinks counter.
func (m *Metrics) IncSinksDropped() {
	if m == nil {
		return
	}
	m.sinksDropped.Inc()
}

// AddBytesRelayed adds n to the relayed bytes counter.
func (m *Metrics) AddBytesRelayed(n int) {
	if m == nil {
		return
	}
	m.bytesRelayed.Add(float64(n))
}

// SetSharedSessions sets the shared sessions gauge.
func (m *Metrics) SetSharedSessions(n int) {
	if m == nil {
		return
	}
	m.sharedSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. shared sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
