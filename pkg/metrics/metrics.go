// Package metrics exposes Prometheus collectors for HTTP and pipeline
// activity, registered against a dedicated registry and served at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the application's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	jobsPicked     *prometheus.CounterVec
	jobsCompleted  *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	queueDepth     *prometheus.GaugeVec
	crawlFailures  *prometheus.CounterVec
	llmCallLatency *prometheus.HistogramVec
}

// New constructs and registers all collectors against a fresh registry.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "inflight_requests",
			Help: "Current number of in-flight HTTP requests.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help: "Duration of HTTP requests.", Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}, []string{"method", "path"}),
		jobsPicked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "jobs_picked_total",
			Help: "Total number of queue entries picked by a worker.",
		}, []string{"worker_id"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "jobs_completed_total",
			Help: "Total number of processing jobs reaching a terminal state.",
		}, []string{"outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "job_duration_seconds",
			Help: "Duration of a full process_job run.", Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "queue_depth",
			Help: "Number of queue entries by status.",
		}, []string{"status"}),
		crawlFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "crawler", Name: "failures_total",
			Help: "Total number of crawl failures by error kind.",
		}, []string{"kind"}),
		llmCallLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "llm", Name: "call_duration_seconds",
			Help: "Duration of LLM provider calls.", Buckets: prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
	}

	reg.MustRegister(
		m.httpInFlight, m.httpRequests, m.httpDuration,
		m.jobsPicked, m.jobsCompleted, m.jobDuration,
		m.queueDepth, m.crawlFailures, m.llmCallLatency,
	)
	return m
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncrementInFlight() { m.httpInFlight.Inc() }
func (m *Metrics) DecrementInFlight() { m.httpInFlight.Dec() }

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, d time.Duration) {
	m.httpRequests.WithLabelValues(method, path, status).Inc()
	m.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// RecordJobPicked records a worker picking a queue entry.
func (m *Metrics) RecordJobPicked(workerID string) {
	m.jobsPicked.WithLabelValues(workerID).Inc()
}

// RecordJobCompleted records a process_job run reaching a terminal outcome.
func (m *Metrics) RecordJobCompleted(outcome string, d time.Duration) {
	m.jobsCompleted.WithLabelValues(outcome).Inc()
	m.jobDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// SetQueueDepth records the current count of queue entries in a status.
func (m *Metrics) SetQueueDepth(status string, count float64) {
	m.queueDepth.WithLabelValues(status).Set(count)
}

// RecordCrawlFailure records a crawl failure by kind.
func (m *Metrics) RecordCrawlFailure(kind string) {
	m.crawlFailures.WithLabelValues(kind).Inc()
}

// RecordLLMCall records the latency of an LLM provider call.
func (m *Metrics) RecordLLMCall(provider, operation string, d time.Duration) {
	m.llmCallLatency.WithLabelValues(provider, operation).Observe(d.Seconds())
}

// Middleware wraps an HTTP handler chain with in-flight/latency/status
// instrumentation, recording the matched mux route template when available.
func Middleware(m *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			m.IncrementInFlight()
			defer m.DecrementInFlight()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			status := strconv.Itoa(wrapped.statusCode)
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tmpl, err := route.GetPathTemplate(); err == nil {
					path = tmpl
				}
			}
			m.RecordHTTPRequest(r.Method, path, status, duration)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}
