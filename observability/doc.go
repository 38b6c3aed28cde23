// Package observability provides a Prometheus-based metrics extension for
// fitsync. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for mutation enqueue, sync, retry, dead-letter,
// recovery, and export events, plus a dead-letter depth gauge and a sync
// pass duration histogram.
//
// For per-mutation tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
