// Package metrics provides Prometheus instrumentation for schema inference,
// row encoding and payload delivery.
//
// # Basic Usage
//
//	c := metrics.Default()
//	c.RecordSchema("Singers", err)
//
//	timer := metrics.NewTimer()
//	payload, err := encode(row)
//	c.RecordRow("Singers", timer.Stop(), len(payload), err)
//
// A nil *Collector is valid and records nothing, so components can accept
// one optionally. Tests should build a Collector on their own registry with
// NewCollector(prometheus.NewRegistry()).
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spez"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Collector groups the spez metric vectors registered on one registry.
type Collector struct {
	schemasBuilt   *prometheus.CounterVec   // result
	rowsEncoded    *prometheus.CounterVec   // table, result
	fieldAnomalies *prometheus.CounterVec   // table, reason
	encodeLatency  *prometheus.HistogramVec // table
	payloadBytes   *prometheus.HistogramVec // table
	rowsDelivered  *prometheus.CounterVec   // table, sink, result
	throughput     *prometheus.GaugeVec     // table
}

// NewCollector registers the spez metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		schemasBuilt: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "schemas_built_total",
				Help:      "Output schemas built from table metadata",
			},
			[]string{"result"},
		),
		rowsEncoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_encoded_total",
				Help:      "Rows encoded into payloads",
			},
			[]string{"table", "result"},
		),
		fieldAnomalies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "field_anomalies_total",
				Help:      "Fields left at their default because the value could not be encoded",
			},
			[]string{"table", "reason"},
		),
		encodeLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "encode_duration_seconds",
				Help:      "Time to encode one row",
				Buckets:   []float64{1e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 1e-2, 1e-1},
			},
			[]string{"table"},
		),
		payloadBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "payload_bytes",
				Help:      "Size of encoded payloads",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"table"},
		),
		rowsDelivered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_delivered_total",
				Help:      "Payloads handed to a sink",
			},
			[]string{"table", "sink", "result"},
		),
		throughput: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "throughput_rows_per_second",
				Help:      "Rows per second over the last export of a table",
			},
			[]string{"table"},
		),
	}
}

var (
	defaultOnce      sync.Once
	defaultCollector *Collector
)

// Default returns the collector registered on the default Prometheus registry.
func Default() *Collector {
	defaultOnce.Do(func() {
		defaultCollector = NewCollector(prometheus.DefaultRegisterer)
	})
	return defaultCollector
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}

// RecordSchema counts one schema build attempt.
func (c *Collector) RecordSchema(table string, err error) {
	if c == nil {
		return
	}
	c.schemasBuilt.WithLabelValues(result(err)).Inc()
}

// RecordRow records one row encode attempt.
func (c *Collector) RecordRow(table string, d time.Duration, size int, err error) {
	if c == nil {
		return
	}
	c.rowsEncoded.WithLabelValues(table, result(err)).Inc()
	if err != nil {
		return
	}
	c.encodeLatency.WithLabelValues(table).Observe(d.Seconds())
	c.payloadBytes.WithLabelValues(table).Observe(float64(size))
}

// RecordAnomaly counts a field left unset while encoding a row.
func (c *Collector) RecordAnomaly(table, reason string) {
	if c == nil {
		return
	}
	c.fieldAnomalies.WithLabelValues(table, reason).Inc()
}

// RecordDelivery counts one payload written to a sink.
func (c *Collector) RecordDelivery(table, sink string, err error) {
	if c == nil {
		return
	}
	c.rowsDelivered.WithLabelValues(table, sink, result(err)).Inc()
}

// SetThroughput publishes a table's rows per second.
func (c *Collector) SetThroughput(table string, rowsPerSecond float64) {
	if c == nil {
		return
	}
	c.throughput.WithLabelValues(table).Set(rowsPerSecond)
}

// Timer measures the duration of one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer started. It may be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker counts rows over a window. Safe for concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
}

// NewThroughputTracker starts a tracking window.
func NewThroughputTracker() *ThroughputTracker {
	return &ThroughputTracker{lastReset: time.Now()}
}

// Increment adds n to the row count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// Count returns the rows counted in the current window.
func (t *ThroughputTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// GetAndReset returns rows per second since the last reset and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()
	return throughput
}
