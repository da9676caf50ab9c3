package internaldefs

import (
	"strconv"
	"strings"

	goGuard "github.com/MrEthical07/goGuard"
)

// CounterDef maps a Gateway counter to its exported name.
type CounterDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// HistogramDef maps a Gateway histogram to its exported name.
type HistogramDef struct {
	ID   goGuard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: goGuard.MetricDecodeSuccess, Name: "goguard_decode_success_total", Help: "Request bodies decoded and parsed."},
	{ID: goGuard.MetricDecodeFailure, Name: "goguard_decode_failure_total", Help: "Request bodies rejected for format, checksum, decode or validation errors."},
	{ID: goGuard.MetricObfuscatedRequest, Name: "goguard_obfuscated_request_total", Help: "Requests received in obfuscated mode."},
	{ID: goGuard.MetricTokenIssued, Name: "goguard_token_issued_total", Help: "Session tokens issued."},
	{ID: goGuard.MetricAuthSuccess, Name: "goguard_auth_success_total", Help: "Requests authorized."},
	{ID: goGuard.MetricAuthFailure, Name: "goguard_auth_failure_total", Help: "Requests rejected by authorization."},
	{ID: goGuard.MetricAuthMismatch, Name: "goguard_auth_mismatch_total", Help: "Valid tokens presented for another user or session."},
	{ID: goGuard.MetricLenientLogout, Name: "goguard_lenient_logout_total", Help: "Logouts accepted without a matching valid token."},
	{ID: goGuard.MetricLockAcquired, Name: "goguard_lock_acquired_total", Help: "Per-user locks acquired."},
	{ID: goGuard.MetricLockDenied, Name: "goguard_lock_denied_total", Help: "Requests denied because the user lock was held."},
	{ID: goGuard.MetricSessionCreated, Name: "goguard_session_created_total", Help: "Sessions started."},
	{ID: goGuard.MetricSessionEnded, Name: "goguard_session_ended_total", Help: "Sessions ended."},
	{ID: goGuard.MetricCacheHit, Name: "goguard_cache_hit_total", Help: "Ephemeral cache hits."},
	{ID: goGuard.MetricCacheMiss, Name: "goguard_cache_miss_total", Help: "Ephemeral cache misses."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGuard.MetricGuardedLatency, Name: "goguard_guarded_latency_seconds", Help: "Time spent holding a user lock."},
}

// Gauge and counter names that do not come from a MetricID.
const (
	AuditDroppedName = "goguard_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped on a full buffer or a failing sink."
	ActiveLocksName  = "goguard_active_locks"
	ActiveLocksHelp  = "Per-user locks currently held."
)

// BucketCount is the number of histogram buckets, overflow included.
var BucketCount = len(goGuard.LatencyBuckets) + 1

// HistogramBounds renders each bucket's upper bound in seconds, ending with
// "+Inf" for the overflow bucket.
var HistogramBounds = func() []string {
	out := make([]string, 0, BucketCount)
	for _, d := range goGuard.LatencyBuckets {
		out = append(out, strconv.FormatFloat(d.Seconds(), 'f', -1, 64))
	}
	return append(out, "+Inf")
}()

// HistogramBoundSuffix renders HistogramBounds for instrument names:
// "0.005" becomes "0_005" and "+Inf" becomes "inf".
var HistogramBoundSuffix = func() []string {
	out := make([]string, len(HistogramBounds))
	for i, b := range HistogramBounds {
		if b == "+Inf" {
			out[i] = "inf"
			continue
		}
		out[i] = strings.ReplaceAll(b, ".", "_")
	}
	return out
}()

// CumulativeBuckets turns per-bucket counts into running totals of length
// BucketCount. A short or missing histogram is zero-filled.
func CumulativeBuckets(raw []uint64) []uint64 {
	out := make([]uint64, BucketCount)
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
