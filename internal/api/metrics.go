package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	requestTotal      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	rateLimitRejected *prometheus.CounterVec
	queueEnqueued     *prometheus.CounterVec
	swapsTotal        *prometheus.CounterVec
	swapDuration      prometheus.Histogram
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapflow_api_requests_total",
			Help: "Total HTTP requests handled by the API.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swapflow_api_request_duration_seconds",
			Help:    "API request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"method", "route", "status"}),
		rateLimitRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapflow_api_rate_limit_rejections_total",
			Help: "Total API requests rejected by rate limiting.",
		}, []string{"route"}),
		queueEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapflow_queue_jobs_enqueued_total",
			Help: "Total swap jobs enqueued for the worker.",
		}, []string{"queue"}),
		swapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapflow_api_swaps_total",
			Help: "Synchronous swaps by outcome.",
		}, []string{"outcome"}),
		swapDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "swapflow_api_facefusion_duration_seconds",
			Help:    "Time spent inside the facefusion CLI per synchronous swap.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.rateLimitRejected,
		m.queueEnqueued,
		m.swapsTotal,
		m.swapDuration,
	)
	return m
}

func (m *metrics) metricsHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metrics) withHTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := routeLabel(r.URL.Path)
		status := statusLabel(recorder.status)

		m.requestTotal.WithLabelValues(r.Method, route, status).Inc()
		m.requestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())
	})
}

func statusLabel(status int) string {
	return strconv.Itoa(status)
}

// routeLabel collapses paths into a bounded label set.
func routeLabel(path string) string {
	switch {
	case path == "/v1/swaps":
		return "/v1/swaps"
	case path == "/v1/swap-jobs":
		return "/v1/swap-jobs"
	case strings.HasPrefix(path, "/v1/swap-jobs/"):
		return "/v1/swap-jobs/{id}"
	case path == "/healthz":
		return "/healthz"
	case path == "/metrics":
		return "/metrics"
	default:
		return "unmatched"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
