// Package metric provides Prometheus metrics for warmstart.
//
// This package implements metrics collection and exposition:
//
//   - prometheus.go: registry, lifecycle counters/histograms, HTTP handler
//   - collector.go: collector reporting the current lifecycle state
//
// Metrics include:
//
//   - Checkpoint and restore outcomes by kind
//   - Checkpoint and restore durations
//   - Recoveries, hook failures, adjusted deadlines, config changes
//
// Metrics are exposed at /metrics of the server's status listener.
//
// @design DS-0402
package metric
