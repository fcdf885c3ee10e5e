// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown for the
// access gate service.
//
// The Logger is a thin wrapper over log/slog emitting JSON, with
// WithField/WithError chaining and context plumbing for request and
// principal IDs. Metrics cover gate decisions, tenant resolution polling,
// the entitlement decision cache, and the HTTP surface.
package observability
