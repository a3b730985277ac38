// Package sinks implements progress consumers: structured logs, Prometheus
// collectors, and a status publisher for terminal job events. Each sink
// satisfies progress.Sink.
package sinks
