// Package metrics exposes Prometheus collectors for the HTTP layer and the
// extraction pipeline.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry (the CLI does this).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quickwatch"

// Metrics holds the collectors and the registry they are registered with.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	extractions    *prometheus.CounterVec
	extractionTime *prometheus.HistogramVec
	cacheLookups   *prometheus.CounterVec
	scriptRuns     *prometheus.CounterVec
}

// New creates a registry with process and Go runtime collectors plus the
// application collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served.",
			},
			[]string{"method", "route", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		extractions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extractions_total",
				Help:      "Pipeline runs by result and, for failures, the stage that failed.",
			},
			[]string{"result", "stage"},
		),
		extractionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "extraction_duration_seconds",
				Help:      "Duration of pipeline runs in seconds.",
				Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"result"},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "extract_cache_lookups_total",
				Help:      "Extraction cache lookups by outcome.",
			},
			[]string{"outcome"},
		),
		scriptRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "script_runs_total",
				Help:      "Interpreter invocations by pipeline stage and outcome.",
			},
			[]string{"stage", "outcome"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.extractions,
		m.extractionTime,
		m.cacheLookups,
		m.scriptRuns,
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
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// ObserveExtraction records one pipeline run. stage is zero for successful runs.
func (m *Metrics) ObserveExtraction(stage int, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	stageLabel := ""
	if err != nil {
		result = "failure"
		stageLabel = strconv.Itoa(stage)
	}
	m.extractions.WithLabelValues(result, stageLabel).Inc()
	m.extractionTime.WithLabelValues(result).Observe(d.Seconds())
}

// ObserveCache records an extraction cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

// ObserveScript records one interpreter invocation.
func (m *Metrics) ObserveScript(stage int, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.scriptRuns.WithLabelValues(strconv.Itoa(stage), outcome).Inc()
}
