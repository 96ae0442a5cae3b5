// Package observability provides an OpenTelemetry metrics extension for
// conductor. The MetricsExtension implements lifecycle hooks to record
// system-wide counters for sessions, steps, fan-out units and worktrees.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
