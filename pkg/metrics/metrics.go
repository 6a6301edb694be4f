package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Task metrics
	TasksTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "glacier_tasks_total",
			Help: "Total number of tasks by state",
		},
		[]string{"state"},
	)

	SessionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "glacier_sessions_total",
			Help: "Total number of active sessions",
		},
	)

	RendersStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glacier_renders_started_total",
			Help: "Total number of render subprocesses spawned",
		},
	)

	RendersFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glacier_renders_failed_total",
			Help: "Total number of renders that ended in a failure state",
		},
	)

	RendersKilled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glacier_renders_killed_total",
			Help: "Total number of renders terminated by a kill request",
		},
	)

	ResultsDownloaded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glacier_results_downloaded_total",
			Help: "Total number of packaged results delivered to clients",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glacier_api_requests_total",
			Help: "Total number of API requests by path and status",
		},
		[]string{"path", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "glacier_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	// Scheduler metrics
	SchedulerPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "glacier_scheduler_passes_total",
			Help: "Total number of completed scheduler passes",
		},
	)

	PackDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "glacier_pack_duration_seconds",
			Help:    "Time taken to package a completed render in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TasksTotal)
	prometheus.MustRegister(SessionsTotal)
	prometheus.MustRegister(RendersStarted)
	prometheus.MustRegister(RendersFailed)
	prometheus.MustRegister(RendersKilled)
	prometheus.MustRegister(ResultsDownloaded)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(SchedulerPasses)
	prometheus.MustRegister(PackDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
