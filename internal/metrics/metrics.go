// Package metrics provides Prometheus metrics for the chat backend.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	StreamsInFlight    prometheus.Gauge
	FallbackMessages   *prometheus.CounterVec
	MessagesPersisted  *prometheus.CounterVec
}

// New registers all collectors on a private registry so that tests and
// multiple servers in one process never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.LLMRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_llm_requests_total",
			Help: "Total number of LLM generation requests",
		},
		[]string{"mode", "status"},
	)
	m.LLMRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_llm_request_duration_seconds",
			Help:    "Duration of LLM generation requests in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"mode"},
	)
	m.StreamsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "advisor_streams_in_flight",
			Help: "Number of streaming replies currently open",
		},
	)
	m.FallbackMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_fallback_messages_total",
			Help: "Assistant fallback messages persisted after a generation failure",
		},
		[]string{"mode"},
	)
	m.MessagesPersisted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_messages_persisted_total",
			Help: "Messages written to the store by role",
		},
		[]string{"role"},
	)

	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The Record helpers accept a nil receiver so collaborators can run
// without metrics in tests.

func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func (m *Metrics) RecordLLMRequest(mode string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.LLMRequestsTotal.WithLabelValues(mode, status).Inc()
	m.LLMRequestDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

func (m *Metrics) RecordFallback(mode string) {
	if m == nil {
		return
	}
	m.FallbackMessages.WithLabelValues(mode).Inc()
}

func (m *Metrics) RecordMessage(role string) {
	if m == nil {
		return
	}
	m.MessagesPersisted.WithLabelValues(role).Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Inc()
}

func (m *Metrics) StreamFinished() {
	if m == nil {
		return
	}
	m.StreamsInFlight.Dec()
}
