/*
Package api is the HTTP surface of NeuroInsight, served by gin.

It exposes job submission and lifecycle, registry browsing and lockfile
verification, results access, backend switching, cluster introspection and
health. Handlers stay thin: validation and response shaping here,
semantics in the backend, registry and results packages.

# Route Groups

Jobs:
  - POST /api/plugins/:id/submit, POST /api/workflows/:id/submit
  - GET  /api/jobs, GET /api/jobs/progress, GET /api/jobs/:id
  - POST /api/jobs/:id/cancel, GET /api/jobs/:id/logs
  - DELETE /api/jobs/:id

Registry:
  - GET  /api/plugins, GET /api/plugins/:id
  - GET  /api/workflows, GET /api/workflows/:id
  - GET  /api/registry/lockfile, POST /api/registry/verify
  - POST /api/registry/reload

Results:
  - GET /api/results/:id/files|volume|segmentation|labels|metrics
  - GET /api/results/:id/download?file_path=...
  - GET /api/results/:id/export, GET /api/results/:id/provenance

Cluster:
  - POST /api/hpc/backend/switch, GET /api/hpc/backend/current
  - GET  /api/hpc/partitions, /api/hpc/queue, /api/hpc/accounts
  - GET  /api/hpc/system-info, /api/hpc/resource-presets
  - GET  /api/audit/recent

Operational:
  - GET /health, GET /metrics

# Error Mapping

respondError translates package sentinels into status codes: not-found
errors to 404, lifecycle and validation errors to 400, unavailable
backends and lost connections to 503, everything else to 500 with the
detail logged rather than leaked.

# Middleware

Every request passes through gin's Recovery and a logger middleware that
records the Prometheus request counter and duration histogram and emits
one structured log line per request, levelled by response status.

# Usage

	srv := api.NewServer(cfg, api.Deps{...})
	go srv.Start()
	...
	srv.Stop(ctx)

Handler() exposes the underlying http.Handler for tests, which exercise
routes with httptest against in-memory dependencies.
*/
package api
