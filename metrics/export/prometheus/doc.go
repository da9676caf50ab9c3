// Package prometheus renders goGuard metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] accepts a [goGuard.Gateway] and exposes an
// [http.Handler]. Counter names are goguard_*_total, the single histogram is
// goguard_guarded_latency_seconds and goguard_active_locks is a gauge.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate gateway state.
package prometheus
