package goGuard

import (
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricAuthSuccess)

	if got := m.Value(MetricAuthSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLockDenied)
	m.Inc(MetricLockDenied)
	m.Inc(MetricLockDenied)

	if got := m.Value(MetricLockDenied); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(MetricAuthFailure)
	m.Observe(MetricGuardedLatency, time.Millisecond)

	if m.Value(MetricAuthFailure) != 0 {
		t.Fatalf("expected nil metrics to read 0")
	}
	if snap := m.Snapshot(); len(snap.Counters) != 0 {
		t.Fatalf("expected empty snapshot, got %v", snap.Counters)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricLockAcquired)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricLockAcquired); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		5 * time.Millisecond,
		10 * time.Millisecond,
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		250 * time.Millisecond,
		500 * time.Millisecond,
		700 * time.Millisecond,
	}

	for _, d := range observations {
		m.Observe(MetricGuardedLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricGuardedLatency]
	if len(buckets) != 8 {
		t.Fatalf("expected 8 buckets, got %d", len(buckets))
	}
	for i, v := range buckets {
		if v != 1 {
			t.Fatalf("bucket %d expected 1, got %d", i, v)
		}
	}
}

func TestMetricsObserveIgnoresCounterIDs(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Observe(MetricAuthSuccess, time.Millisecond)

	snap := m.Snapshot()
	if _, ok := snap.Histograms[MetricAuthSuccess]; ok {
		t.Fatalf("expected no histogram for a counter id")
	}
	for i, v := range snap.Histograms[MetricGuardedLatency] {
		if v != 0 {
			t.Fatalf("bucket %d expected 0, got %d", i, v)
		}
	}
}

func TestMetricsSnapshotConsistency(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})
	m.Inc(MetricDecodeSuccess)
	m.Inc(MetricDecodeFailure)
	m.Inc(MetricDecodeFailure)
	m.Observe(MetricGuardedLatency, 2*time.Millisecond)

	snap := m.Snapshot()

	if snap.Counters[MetricDecodeSuccess] != 1 {
		t.Fatalf("expected MetricDecodeSuccess=1 got %d", snap.Counters[MetricDecodeSuccess])
	}
	if snap.Counters[MetricDecodeFailure] != 2 {
		t.Fatalf("expected MetricDecodeFailure=2 got %d", snap.Counters[MetricDecodeFailure])
	}
	if len(snap.Histograms[MetricGuardedLatency]) != 8 {
		t.Fatalf("expected histogram length 8")
	}
	if snap.Histograms[MetricGuardedLatency][0] != 1 {
		t.Fatalf("expected first histogram bucket=1 got %d", snap.Histograms[MetricGuardedLatency][0])
	}
}

func TestMetricsLatencyDisabledOmitsHistogram(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Observe(MetricGuardedLatency, time.Millisecond)

	if _, ok := m.Snapshot().Histograms[MetricGuardedLatency]; ok {
		t.Fatalf("expected no histogram when latency is disabled")
	}
}

func TestMetricsLatencySumAndOverflow(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricGuardedLatency, 3*time.Millisecond)
	m.Observe(MetricGuardedLatency, 2*time.Second)

	snap := m.Snapshot()
	if snap.LatencySum != 2003*time.Millisecond {
		t.Fatalf("expected sum 2.003s, got %v", snap.LatencySum)
	}
	buckets := snap.Histograms[MetricGuardedLatency]
	if buckets[0] != 1 || buckets[len(LatencyBuckets)] != 1 {
		t.Fatalf("expected first and overflow buckets set, got %v", buckets)
	}
}
