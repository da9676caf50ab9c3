package goGuard

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one Gateway counter.
type MetricID uint16

const (
	// MetricDecodeSuccess counts request bodies decoded and parsed.
	MetricDecodeSuccess MetricID = iota
	// MetricDecodeFailure counts format, checksum, decode and validation failures.
	MetricDecodeFailure
	// MetricObfuscatedRequest counts bodies that arrived in obfuscated mode.
	MetricObfuscatedRequest
	MetricTokenIssued
	MetricAuthSuccess
	MetricAuthFailure
	// MetricAuthMismatch counts valid tokens presented for another identity.
	MetricAuthMismatch
	MetricLenientLogout
	MetricLockAcquired
	MetricLockDenied
	MetricSessionCreated
	MetricSessionEnded
	MetricCacheHit
	MetricCacheMiss
	// MetricGuardedLatency is the histogram of time spent holding a user lock.
	MetricGuardedLatency
	metricIDCount
)

// LatencyBuckets are the inclusive upper bounds of the guarded-call
// histogram. Observations above the last bound land in one overflow bucket,
// so a snapshot has len(LatencyBuckets)+1 entries.
var LatencyBuckets = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const latencyBucketCount = len(LatencyBuckets) + 1

// counters sit on separate cache lines so hot ids do not contend.
type paddedCounter struct {
	n atomic.Uint64
	_ [56]byte
}

type latencyHistogram struct {
	buckets  [latencyBucketCount]atomic.Uint64
	sumNanos atomic.Int64
}

func (h *latencyHistogram) observe(d time.Duration) {
	i := 0
	for i < len(LatencyBuckets) && d > LatencyBuckets[i] {
		i++
	}
	h.buckets[i].Add(1)
	h.sumNanos.Add(int64(d))
}

// Metrics is a lock-free set of counters plus one latency histogram. A nil
// or disabled Metrics accepts every call and records nothing.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       latencyHistogram
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histogram slices hold per-bucket (not cumulative) counts.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
	// LatencySum is the total time observed by [MetricGuardedLatency].
	LatencySum time.Duration
}

func emptySnapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
}

// NewMetrics returns a Metrics configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc increments counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= metricIDCount {
		return
	}
	m.counters[id].n.Add(1)
}

// Observe records d. Only [MetricGuardedLatency] carries a histogram; other
// ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricGuardedLatency {
		return
	}
	m.latency.observe(d)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].n.Load()
}

// Snapshot copies every counter, and the histogram when enabled. Counters
// and buckets are read individually, so a snapshot taken under load may be
// off by in-flight increments.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if !m.Enabled() {
		return emptySnapshot()
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := range metricIDCount {
		s.Counters[id] = m.counters[id].n.Load()
	}

	if m.enableLatency {
		buckets := make([]uint64, latencyBucketCount)
		for i := range buckets {
			buckets[i] = m.latency.buckets[i].Load()
		}
		s.Histograms[MetricGuardedLatency] = buckets
		s.LatencySum = time.Duration(m.latency.sumNanos.Load())
	}
	return s
}
