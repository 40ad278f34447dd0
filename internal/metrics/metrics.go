// Package metrics exposes Prometheus collectors for the HTTP layer and the renderer.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "qrservice"

// Path is where the exposition endpoint is mounted.
const Path = "/metrics"

// NewRegistry creates a registry with Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// Metrics holds every collector of the service. A nil *Metrics records nothing.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	inFlight       prometheus.Gauge
	renders        *prometheus.CounterVec
	renderDuration *prometheus.HistogramVec
	sessions       prometheus.Gauge
	cacheLookups   *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "Requests currently being served.",
		}),
		renders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "renders_total",
			Help:      "QR renders by mode and outcome.",
		}, []string{"mode", "outcome"}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a QR code.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"mode"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temp_sessions_active",
			Help:      "Temporary request directories not yet removed.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "QR cache lookups by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.requests, m.duration, m.inFlight, m.renders, m.renderDuration, m.sessions, m.cacheLookups,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Middleware counts and times every request except the scrape endpoint itself.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m == nil || c.Path() == Path {
			return c.Next()
		}

		start := time.Now()
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		err := c.Next()

		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		m.requests.WithLabelValues(c.Method(), route, strconv.Itoa(status)).Inc()
		m.duration.WithLabelValues(c.Method(), route).Observe(time.Since(start).Seconds())
		return err
	}
}

// ObserveRender records one render attempt.
func (m *Metrics) ObserveRender(mode, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(mode, outcome).Inc()
	m.renderDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// SetActiveSessions publishes the number of live temp directories.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessions.Set(float64(n))
}

// CacheLookup records a cache hit, miss or error.
func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}
