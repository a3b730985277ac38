// Package progress carries the events workers report while processing a job.
//
// Workers call a Reporter. The Throttle wrapper enforces a minimum interval
// between page-level events per job, and the Hub buffers events without
// blocking and fans batches out to sinks (logs, Prometheus, Pub/Sub).
package progress
