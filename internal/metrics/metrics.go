// Package metrics exposes Prometheus collectors for event routing, session
// lifecycle and session store activity.
//
// Every Metrics value owns its own prometheus.Registry, so tests and multiple
// servers in one process never collide on registration. All recording
// methods are safe on a nil *Metrics, which is how components run when
// metrics are not wired.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every metric name.
const Namespace = "sessiond"

// Drop reasons for EventDropped.
const (
	DropUnknownKind = "unknown_kind"
	DropQueueFull   = "queue_full"
	DropClosed      = "closed"
)

// Metrics holds the collectors. Create with New.
type Metrics struct {
	registry *prometheus.Registry

	eventsRouted     *prometheus.CounterVec
	eventsDropped    *prometheus.CounterVec
	dispatchApplied  *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	queueDepth       prometheus.Gauge

	messagesAppended prometheus.Counter
	messagesEvicted  prometheus.Counter

	sessionsActive  prometheus.Gauge
	sessionsCreated *prometheus.CounterVec
	sessionsRemoved *prometheus.CounterVec

	storeOps      *prometheus.CounterVec
	storeDuration *prometheus.HistogramVec
}

// New creates a Metrics with all collectors registered, plus the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.eventsRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_routed_total",
			Help:      "Events routed to at least one candidate session lookup, by kind.",
		},
		[]string{"kind"},
	)
	m.eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped before dispatch, by reason.",
		},
		[]string{"reason"},
	)
	m.dispatchApplied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatch_applied_total",
			Help:      "Handler mutations applied to a session, by event kind.",
		},
		[]string{"kind"},
	)
	m.dispatchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatch_failures_total",
			Help:      "Per-session dispatch failures (handler panics), by event kind.",
		},
		[]string{"kind"},
	)
	m.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "dispatch_queue_depth",
		Help:      "Events waiting in the asynchronous dispatch queue.",
	})

	m.messagesAppended = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_appended_total",
		Help:      "Messages appended to session backlogs.",
	})
	m.messagesEvicted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Name:      "messages_evicted_total",
		Help:      "Messages evicted from full session backlogs.",
	})

	m.sessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: Namespace,
		Name:      "sessions_active",
		Help:      "Sessions currently registered.",
	})
	m.sessionsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_registered_total",
			Help:      "Sessions registered, by origin (new, restored, replaced_corrupt).",
		},
		[]string{"origin"},
	)
	m.sessionsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions removed from the registry, by reason.",
		},
		[]string{"reason"},
	)

	m.storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "store_operations_total",
			Help:      "Session store operations, by operation and result.",
		},
		[]string{"op", "result"},
	)
	m.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "store_operation_duration_seconds",
			Help:      "Duration of session store operations.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"op"},
	)

	m.registry.MustRegister(
		m.eventsRouted,
		m.eventsDropped,
		m.dispatchApplied,
		m.dispatchFailures,
		m.queueDepth,
		m.messagesAppended,
		m.messagesEvicted,
		m.sessionsActive,
		m.sessionsCreated,
		m.sessionsRemoved,
		m.storeOps,
		m.storeDuration,
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
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// -----------------------------------------------------------------------------
// Routing
// -----------------------------------------------------------------------------

func (m *Metrics) EventRouted(kind string) {
	if m == nil {
		return
	}
	m.eventsRouted.WithLabelValues(kind).Inc()
}

func (m *Metrics) EventDropped(reason string) {
	if m == nil {
		return
	}
	m.eventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) DispatchApplied(kind string) {
	if m == nil {
		return
	}
	m.dispatchApplied.WithLabelValues(kind).Inc()
}

func (m *Metrics) DispatchFailed(kind string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// -----------------------------------------------------------------------------
// Sessions
// -----------------------------------------------------------------------------

func (m *Metrics) MessageAppended(evicted int) {
	if m == nil {
		return
	}
	m.messagesAppended.Inc()
	if evicted > 0 {
		m.messagesEvicted.Add(float64(evicted))
	}
}

// MessagesEvicted counts evictions that were not caused by an append, such
// as a shrinking backlog limit.
func (m *Metrics) MessagesEvicted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.messagesEvicted.Add(float64(n))
}

func (m *Metrics) SessionRegistered(origin string) {
	if m == nil {
		return
	}
	m.sessionsCreated.WithLabelValues(origin).Inc()
}

func (m *Metrics) SessionRemoved(reason string) {
	if m == nil {
		return
	}
	m.sessionsRemoved.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// StoreOp records one store operation. result is "ok" for a nil error and
// otherwise a short class such as "not_found", "corrupt" or "io".
func (m *Metrics) StoreOp(op, result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.storeOps.WithLabelValues(op, result).Inc()
	m.storeDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}
