package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/prescribing-engine/matrixstore"
)

const namespace = "prescribing"

// Metrics holds the Prometheus collectors for the API and the snapshot.
type Metrics struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	reloads  *prometheus.CounterVec

	snapshotDates         prometheus.Gauge
	snapshotPresentations prometheus.Gauge
	snapshotPractices     prometheus.Gauge
	snapshotBuiltAt       prometheus.Gauge
}

// NewMetrics registers every collector on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"route"}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "reloads_total",
			Help:      "Snapshot reload attempts by result.",
		}, []string{"result"}),
		snapshotDates: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "dates",
			Help:      "Months held by the current snapshot.",
		}),
		snapshotPresentations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "presentations",
			Help:      "Presentations held by the current snapshot.",
		}),
		snapshotPractices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "practices",
			Help:      "Practices held by the current snapshot.",
		}),
		snapshotBuiltAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "built_timestamp_seconds",
			Help:      "Unix time the current snapshot was built.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.reloads,
		m.snapshotDates, m.snapshotPresentations, m.snapshotPractices, m.snapshotBuiltAt,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts and times requests by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// SnapshotPublished records the shape of a newly published snapshot.
func (m *Metrics) SnapshotPublished(s *matrixstore.Snapshot) {
	m.reloads.WithLabelValues("ok").Inc()
	m.snapshotDates.Set(float64(len(s.Dates())))
	m.snapshotPresentations.Set(float64(s.NumPresentations()))
	m.snapshotPractices.Set(float64(s.NumPractices()))
	m.snapshotBuiltAt.Set(float64(s.BuiltAt().Unix()))
}

// SnapshotFailed counts a failed reload.
func (m *Metrics) SnapshotFailed() {
	m.reloads.WithLabelValues("error").Inc()
}
