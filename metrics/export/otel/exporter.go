package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is the read side of a [goGuard.Gateway].
type MetricsSource interface {
	MetricsSnapshot() goGuard.MetricsSnapshot
	AuditDropped() uint64
	ActiveLockCount() int
}

// histogramInstruments mirror one Gateway histogram as cumulative bucket
// gauges plus count and sum.
type histogramInstruments struct {
	id      goGuard.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
	sum     metric.Float64ObservableGauge
}

// OTelExporter publishes Gateway metrics through observable instruments
// read once per collection cycle.
type OTelExporter struct {
	source       MetricsSource
	registration metric.Registration

	counters     map[goGuard.MetricID]metric.Int64ObservableCounter
	histograms   []histogramInstruments
	auditDropped metric.Int64ObservableCounter
	activeLocks  metric.Int64ObservableGauge
}

// NewOTelExporter registers instruments on meter that read from gw.
func NewOTelExporter(meter metric.Meter, gw *goGuard.Gateway) (*OTelExporter, error) {
	if gw == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, gw)
}

// NewOTelExporterFromSource registers instruments reading from source.
func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	r := &registrar{meter: meter}
	e := &OTelExporter{
		source:   source,
		counters: make(map[goGuard.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
	}

	for _, def := range internaldefs.CounterDefs {
		e.counters[def.ID] = r.counter(def.Name, def.Help)
	}
	for _, def := range internaldefs.HistogramDefs {
		h := histogramInstruments{id: def.ID}
		for _, suffix := range internaldefs.HistogramBoundSuffix {
			h.buckets = append(h.buckets, r.gauge(def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count."))
		}
		h.count = r.gauge(def.Name+"_count", "Histogram sample count.")
		h.sum = r.floatGauge(def.Name+"_sum", "Histogram sum in seconds.")
		e.histograms = append(e.histograms, h)
	}
	e.auditDropped = r.counter(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp)
	e.activeLocks = r.gauge(internaldefs.ActiveLocksName, internaldefs.ActiveLocksHelp)

	if r.err != nil {
		return nil, r.err
	}

	registration, err := meter.RegisterCallback(e.observe, r.observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for id, ins := range e.counters {
		o.ObserveInt64(ins, int64(snapshot.Counters[id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(snapshot.Histograms[h.id])
		for i, ins := range h.buckets {
			o.ObserveInt64(ins, int64(cumulative[i]))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(h.sum, snapshot.LatencySum.Seconds())
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	o.ObserveInt64(e.activeLocks, int64(e.source.ActiveLockCount()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

// registrar creates instruments and keeps the first error, so construction
// reads as a flat list.
type registrar struct {
	meter       metric.Meter
	observables []metric.Observable
	err         error
}

func (r *registrar) counter(name, help string) metric.Int64ObservableCounter {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create counter %s: %w", name, err)
		return nil
	}
	r.observables = append(r.observables, ins)
	return ins
}

func (r *registrar) gauge(name, help string) metric.Int64ObservableGauge {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create gauge %s: %w", name, err)
		return nil
	}
	r.observables = append(r.observables, ins)
	return ins
}

func (r *registrar) floatGauge(name, help string) metric.Float64ObservableGauge {
	if r.err != nil {
		return nil
	}
	ins, err := r.meter.Float64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		r.err = fmt.Errorf("create gauge %s: %w", name, err)
		return nil
	}
	r.observables = append(r.observables, ins)
	return ins
}
