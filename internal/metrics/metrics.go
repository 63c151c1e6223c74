// Package metrics exposes engine health and transition outcomes to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spyrothon/graphics-sub000/internal/version"
)

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry
	started  time.Time

	sequences    *prometheus.CounterVec
	steps        *prometheus.CounterVec
	stepDuration prometheus.Histogram
	deviceUp     prometheus.Gauge
	storeUp      prometheus.Gauge
	busUp        prometheus.Gauge
	syncClients  prometheus.Gauge
	busyClients  prometheus.Gauge
	auditEvents  prometheus.Counter
	uptime       prometheus.GaugeFunc
	buildInfo    *prometheus.GaugeVec
	httpDuration *prometheus.HistogramVec
}

// New creates and registers the collectors. instance labels the build info.
func New(instance string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started:  time.Now(),
		sequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphics_sequences_total",
			Help: "Transition sequences by outcome",
		}, []string{"outcome"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphics_steps_total",
			Help: "Transition steps by outcome",
		}, []string{"outcome"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "graphics_step_duration_seconds",
			Help:    "Time from step start to DONE or failure, including the hold",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		deviceUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphics_obs_connected",
			Help: "Whether the OBS session is open (1) or not (0)",
		}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphics_postgres_connected",
			Help: "Whether PostgreSQL is connected (1) or not (0)",
		}),
		busUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphics_bus_connected",
			Help: "Whether the broadcast bus transport is connected (1) or not (0)",
		}),
		syncClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphics_sync_clients",
			Help: "Number of connected sync websocket clients",
		}),
		busyClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "graphics_busy_originators",
			Help: "Number of control clients currently running a sequence",
		}),
		auditEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphics_events_total",
			Help: "Audit events emitted since startup",
		}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "graphics_build_info",
			Help: "Build and instance labels; always 1",
		}, []string{"version", "instance"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "graphics_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
	m.uptime = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "graphics_uptime_seconds",
		Help: "Seconds since the engine started",
	}, func() float64 { return time.Since(m.started).Seconds() })

	m.registry.MustRegister(
		m.sequences,
		m.steps,
		m.stepDuration,
		m.deviceUp,
		m.storeUp,
		m.busUp,
		m.syncClients,
		m.busyClients,
		m.auditEvents,
		m.uptime,
		m.buildInfo,
		m.httpDuration,
	)
	m.buildInfo.WithLabelValues(version.Version, instance).Set(1)
	return m
}

// ObserveStep implements transitions.Recorder.
func (m *Metrics) ObserveStep(outcome string, d time.Duration) {
	m.steps.WithLabelValues(outcome).Inc()
	m.stepDuration.Observe(d.Seconds())
}

// ObserveSequence implements transitions.Recorder.
func (m *Metrics) ObserveSequence(outcome string) {
	m.sequences.WithLabelValues(outcome).Inc()
}

// SetDeviceConnected records whether the OBS session is open.
func (m *Metrics) SetDeviceConnected(up bool) { m.deviceUp.Set(boolValue(up)) }

func (m *Metrics) SetStoreConnected(up bool) { m.storeUp.Set(boolValue(up)) }

func (m *Metrics) SetBusConnected(up bool) { m.busUp.Set(boolValue(up)) }

func (m *Metrics) SetSyncClients(n int) { m.syncClients.Set(float64(n)) }

func (m *Metrics) SetBusyOriginators(n int) { m.busyClients.Set(float64(n)) }

// IncEvents counts one audit event.
func (m *Metrics) IncEvents() { m.auditEvents.Inc() }

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Registry returns the private registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry. refresh, if set, runs before each scrape to
// update polled gauges.
func (m *Metrics) Handler(refresh func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if refresh != nil {
			refresh()
		}
		h.ServeHTTP(w, r)
	})
}

// Middleware records request latency labelled by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Route patterns keep label cardinality bounded.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if pattern := rc.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.httpDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).Observe(time.Since(start).Seconds())
	})
}
