// Package internaldefs holds the exported metric names shared by the
// Prometheus and OTel exporters, and derives histogram bucket labels from
// [goGuard.LatencyBuckets] so both exporters always agree with the Gateway.
package internaldefs
