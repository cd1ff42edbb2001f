// Package observability exposes Prometheus metrics for the ledger service.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects HTTP and ledger domain metrics on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	entriesPosted    prometheus.Counter
	entriesReversed  prometheus.Counter
	periodTransition *prometheus.CounterVec
	unbalancedFound  prometheus.Gauge
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crestline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crestline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	posted := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crestline_journal_entries_posted_total",
		Help: "Journal entries successfully posted.",
	})
	reversed := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "crestline_journal_entries_reversed_total",
		Help: "Reversal entries created.",
	})
	periodTransition := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crestline_period_transitions_total",
		Help: "Financial period close/reopen transitions.",
	}, []string{"transition"})
	unbalanced := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crestline_gl_unbalanced_entries",
		Help: "Posted entries whose line items no longer balance, found by the integrity scan.",
	})
	registry.MustRegister(requests, duration, posted, reversed, periodTransition, unbalanced)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		entriesPosted:    posted,
		entriesReversed:  reversed,
		periodTransition: periodTransition,
		unbalancedFound:  unbalanced,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// EntryPosted increments the posted-entries counter.
func (m *Metrics) EntryPosted() {
	if m != nil {
		m.entriesPosted.Inc()
	}
}

// EntryReversed increments the reversal counter.
func (m *Metrics) EntryReversed() {
	if m != nil {
		m.entriesReversed.Inc()
	}
}

// PeriodTransition records a close or reopen.
func (m *Metrics) PeriodTransition(transition string) {
	if m != nil {
		m.periodTransition.WithLabelValues(transition).Inc()
	}
}

// SetUnbalancedEntries publishes the latest integrity scan result.
func (m *Metrics) SetUnbalancedEntries(n int) {
	if m != nil {
		m.unbalancedFound.Set(float64(n))
	}
}

// Registerer exposes the registry for ad hoc collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
