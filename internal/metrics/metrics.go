// Package metrics provides the Prometheus collectors for reelrate.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reelrate"

// Metrics holds every reelrate collector. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	EventsBroadcastTotal *prometheus.CounterVec
	EventsDroppedTotal   *prometheus.CounterVec
	WSConnections        prometheus.Gauge

	AuthFailuresTotal *prometheus.CounterVec
	RatingsTotal      prometheus.Counter
}

// New creates the collectors on a private registry that also carries the
// Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by method and route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		EventsBroadcastTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_broadcast_total",
				Help:      "Change events handed to the notifier",
			},
			[]string{"event"},
		),
		EventsDroppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Change events dropped because a subscriber buffer was full",
			},
			[]string{"event"},
		),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open websocket subscriber connections",
		}),
		AuthFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Rejected bearer authentications by reason",
			},
			[]string{"reason"},
		),
		RatingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratings_total",
			Help:      "Ratings accepted",
		}),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsBroadcastTotal,
		m.EventsDroppedTotal,
		m.WSConnections,
		m.AuthFailuresTotal,
		m.RatingsTotal,
	)

	return m
}

// Registry returns the registry holding all collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// =============================================================================
// Recorders
// =============================================================================

// RecordEventBroadcast counts an event handed to the notifier.
func (m *Metrics) RecordEventBroadcast(event string) {
	if m == nil {
		return
	}
	m.EventsBroadcastTotal.WithLabelValues(event).Inc()
}

// RecordEventDropped counts an event dropped for one subscriber.
func (m *Metrics) RecordEventDropped(event string) {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.WithLabelValues(event).Inc()
}

// WSConnected tracks an opened websocket.
func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// WSDisconnected tracks a closed websocket.
func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}

// RecordAuthFailure counts a rejected authentication.
func (m *Metrics) RecordAuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordRating counts an accepted rating.
func (m *Metrics) RecordRating() {
	if m == nil {
		return
	}
	m.RatingsTotal.Inc()
}

// =============================================================================
// HTTP middleware
// =============================================================================

// Middleware records request count and latency per chi route pattern.
// Unmatched requests are labelled "unmatched" to bound cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
