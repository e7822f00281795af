// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runbeat_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runbeat_tasks_total",
		Help: "Background tasks processed, by task name and outcome.",
	}, []string{"task", "status"})

	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runbeat_task_duration_seconds",
		Help:    "Background task execution time.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "runbeat_queue_depth",
		Help: "Tasks waiting in the in-process queue.",
	})

	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runbeat_imports_total",
		Help: "Import pipeline outcomes by source.",
	}, []string{"source", "status"})
)

// Handler serves the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
