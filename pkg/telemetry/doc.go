// Package telemetry provides the observability layer for RunLedger:
// structured logging via zerolog, Prometheus metrics for storage operations,
// OpenTelemetry tracing, and an in-process publisher for run lifecycle
// events. All components are configured through a single Config and can be
// disabled independently.
package telemetry
