// Package otel provides OpenTelemetry metric bindings for goGuard counters and
// histograms.
//
// [NewOTelExporter] registers an Int64ObservableCounter per Gateway counter,
// an Int64ObservableGauge per histogram bucket and one for active locks. A
// single callback reads [goGuard.Gateway.MetricsSnapshot] on each collection
// cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider. Callers supply the Meter.
//   - Mutate gateway state.
package otel
