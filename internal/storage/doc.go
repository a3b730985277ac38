// Package storage groups the output sinks that receive finished archives and
// the job stores that back the status API.
//
//   - memory: in-process sink and job store for tests and local runs.
//   - local: writes archives under a base directory.
//   - gcs: uploads archives to a Google Cloud Storage bucket.
//   - postgres: job history in Postgres via pgx.
package storage
