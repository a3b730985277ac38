// Package api hosts the HTTP server, middleware, and REST handlers front ends
// use to drive the archiver. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/search and /v1/chapters to browse a source.
//   - POST /v1/jobs to submit an archive job, GET /v1/jobs/{job_id} for status.
//   - POST /v1/owners/{owner_id}/cancel to cancel an owner's active job.
package api
