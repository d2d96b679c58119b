/*
Package metrics provides Prometheus metrics collection and exposition for
NeuroInsight.

All metrics are defined as package-level collectors and registered with the
default Prometheus registry at init, so importing any package that touches a
metric is enough to have it exported. The /metrics endpoint serves the
standard text exposition format via Handler.

# Metric Inventory

Job metrics:
  - neuroinsight_jobs_total (gauge, by status): active jobs by lifecycle state
  - neuroinsight_jobs_submitted_total (counter, by backend and mode)
  - neuroinsight_jobs_finished_total (counter, by terminal status)
  - neuroinsight_job_retries_total (counter): transient-error retries
  - neuroinsight_job_duration_seconds (histogram, by pipeline):
    wall-clock duration with buckets from one minute to sixteen hours

Queue metrics:
  - neuroinsight_queue_depth (gauge, by list): pending and processing depth

Upload metrics:
  - neuroinsight_objectstore_uploaded_files_total (counter)

API metrics:
  - neuroinsight_api_requests_total (counter, by method, path, status)
  - neuroinsight_api_request_duration_seconds (histogram, by method, path)

# Usage

	metrics.JobsSubmitted.WithLabelValues("local", "plugin").Inc()
	metrics.JobDuration.WithLabelValues(job.PipelineName).Observe(elapsed.Seconds())

Exposition:

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

# Integration Points

  - pkg/api: request middleware and the /metrics route
  - pkg/executor: job outcome counters and duration histogram
  - pkg/backend: submission counters
  - cmd/neuroinsight: periodic queue-depth and status-gauge refresh
*/
package metrics
