package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry           *prometheus.Registry
	jobsTotal          *prometheus.CounterVec
	jobDuration        *prometheus.HistogramVec
	activeJobs         prometheus.Gauge
	webhookFailures    *prometheus.CounterVec
	outputBytesTotal   prometheus.Counter
	computeTimeMSTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapflow_worker_jobs_total",
			Help: "Total swap jobs by final status.",
		}, []string{"status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "swapflow_worker_job_duration_seconds",
			Help:    "Total processing duration for each swap job.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "swapflow_worker_active_jobs",
			Help: "Current number of swaps running in the worker.",
		}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "swapflow_worker_webhook_failures_total",
			Help: "Webhook deliveries that exhausted their retries.",
		}, []string{"event"}),
		outputBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapflow_usage_output_bytes_total",
			Help: "Total bytes of swapped images uploaded.",
		}),
		computeTimeMSTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "swapflow_usage_compute_time_ms_total",
			Help: "Total compute time in milliseconds across successful jobs.",
		}),
	}

	registry.MustRegister(
		m.jobsTotal,
		m.jobDuration,
		m.activeJobs,
		m.webhookFailures,
		m.outputBytesTotal,
		m.computeTimeMSTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
