// Package observability provides structured logging and metrics for the
// roster check-in service.
//
// This package implements:
//   - zap loggers configured from the environment (json or console)
//   - Prometheus counters and gauges for check-ins, resets, imports,
//     exports and live subscribers, on a registry owned by Metrics
package observability
