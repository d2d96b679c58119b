package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job metrics
	JobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neuroinsight_jobs_total",
			Help: "Number of jobs by status",
		},
		[]string{"status"},
	)

	JobsSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroinsight_jobs_submitted_total",
			Help: "Total jobs submitted by backend and execution mode",
		},
		[]string{"backend", "mode"},
	)

	JobsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroinsight_jobs_finished_total",
			Help: "Total jobs finished by terminal status",
		},
		[]string{"status"},
	)

	JobRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neuroinsight_job_retries_total",
			Help: "Total transient-error retries across all jobs",
		},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuroinsight_job_duration_seconds",
			Help:    "Wall-clock job duration in seconds by pipeline",
			Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400, 28800, 57600},
		},
		[]string{"pipeline"},
	)

	// Queue metrics
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "neuroinsight_queue_depth",
			Help: "Task-queue depth by list",
		},
		[]string{"list"},
	)

	// Upload metrics
	UploadedFiles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "neuroinsight_objectstore_uploaded_files_total",
			Help: "Total files mirrored to the object store",
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroinsight_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuroinsight_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(JobsByStatus)
	prometheus.MustRegister(JobsSubmitted)
	prometheus.MustRegister(JobsCompleted)
	prometheus.MustRegister(JobRetries)
	prometheus.MustRegister(JobDuration)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(UploadedFiles)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
