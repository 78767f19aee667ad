package rushit

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the transaction latency histogram buckets in
// nanoseconds. Buckets cover from 1us to 10s with logarithmic spacing.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks data-plane statistics aggregated across every worker.
// Workers feed it through a MetricsObserver.
type Metrics struct {
	// Message counters
	SendOps    atomic.Uint64 // Total send operations
	RecvOps    atomic.Uint64 // Total receive operations
	RecvErrOps atomic.Uint64 // Error-queue drains

	// Byte counters
	SendBytes atomic.Uint64 // Total bytes sent
	RecvBytes atomic.Uint64 // Total bytes received

	// Error counters
	SendErrors atomic.Uint64
	RecvErrors atomic.Uint64

	// Flow lifetime
	FlowsOpened atomic.Uint64
	FlowsClosed atomic.Uint64

	// Transactions are completed request/response exchanges
	Transactions   atomic.Uint64
	TotalLatencyNs atomic.Uint64 // Cumulative transaction latency

	// Latency histogram buckets (cumulative counts)
	// Each bucket[i] counts transactions with latency <= LatencyBuckets[i]
	LatencyHistogram [numLatencyBuckets]atomic.Uint64

	// Run lifecycle
	StartTime atomic.Int64 // Run start timestamp (UnixNano)
	StopTime  atomic.Int64 // Run stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordSend records one send attempt
func (m *Metrics) RecordSend(bytes uint64, success bool) {
	m.SendOps.Add(1)
	if success {
		m.SendBytes.Add(bytes)
	} else {
		m.SendErrors.Add(1)
	}
}

// RecordRecv records one receive attempt
func (m *Metrics) RecordRecv(bytes uint64, success bool) {
	m.RecvOps.Add(1)
	if success {
		m.RecvBytes.Add(bytes)
	} else {
		m.RecvErrors.Add(1)
	}
}

// RecordRecvErr records one error-queue drain
func (m *Metrics) RecordRecvErr() {
	m.RecvErrOps.Add(1)
}

// RecordTransaction records one completed request/response exchange
func (m *Metrics) RecordTransaction(latencyNs uint64) {
	m.Transactions.Add(1)
	m.TotalLatencyNs.Add(latencyNs)

	// Update histogram buckets (cumulative)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.LatencyHistogram[i].Add(1)
		}
	}
}

// RecordFlowOpen and RecordFlowClose track flow lifetime
func (m *Metrics) RecordFlowOpen() {
	m.FlowsOpened.Add(1)
}

func (m *Metrics) RecordFlowClose() {
	m.FlowsClosed.Add(1)
}

// Stop marks the run as finished
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of the counters with derived
// statistics filled in.
type MetricsSnapshot struct {
	SendOps    uint64
	RecvOps    uint64
	RecvErrOps uint64

	SendBytes uint64
	RecvBytes uint64

	SendErrors uint64
	RecvErrors uint64

	FlowsOpened uint64
	FlowsClosed uint64

	Transactions uint64
	AvgLatencyNs uint64
	UptimeNs     uint64

	// Latency percentiles (in nanoseconds)
	LatencyP50Ns uint64
	LatencyP99Ns uint64

	// Histogram bucket counts (cumulative)
	LatencyHistogram [numLatencyBuckets]uint64

	// Computed rates
	TransactionsPerSecond float64
	SendThroughput        float64 // Bytes per second
	RecvThroughput        float64
	ErrorRate             float64 // Percentage of failed operations
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SendOps:      m.SendOps.Load(),
		RecvOps:      m.RecvOps.Load(),
		RecvErrOps:   m.RecvErrOps.Load(),
		SendBytes:    m.SendBytes.Load(),
		RecvBytes:    m.RecvBytes.Load(),
		SendErrors:   m.SendErrors.Load(),
		RecvErrors:   m.RecvErrors.Load(),
		FlowsOpened:  m.FlowsOpened.Load(),
		FlowsClosed:  m.FlowsClosed.Load(),
		Transactions: m.Transactions.Load(),
	}

	totalLatencyNs := m.TotalLatencyNs.Load()
	if snap.Transactions > 0 {
		snap.AvgLatencyNs = totalLatencyNs / snap.Transactions
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.TransactionsPerSecond = float64(snap.Transactions) / uptimeSeconds
		snap.SendThroughput = float64(snap.SendBytes) / uptimeSeconds
		snap.RecvThroughput = float64(snap.RecvBytes) / uptimeSeconds
	}

	totalOps := snap.SendOps + snap.RecvOps
	totalErrors := snap.SendErrors + snap.RecvErrors
	if totalOps > 0 {
		snap.ErrorRate = float64(totalErrors) / float64(totalOps) * 100.0
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.LatencyHistogram[i] = m.LatencyHistogram[i].Load()
	}

	if snap.Transactions > 0 {
		snap.LatencyP50Ns = m.Percentile(50)
		snap.LatencyP99Ns = m.Percentile(99)
	}

	return snap
}

// Percentile estimates the transaction latency at the given percentile
// (0-100) using linear interpolation between histogram buckets.
func (m *Metrics) Percentile(percentile float64) uint64 {
	total := m.Transactions.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile / 100.0)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.LatencyHistogram[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyHistogram[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			// Interpolate between prevBucket and bucket
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	// The latency exceeds all buckets
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.SendOps.Store(0)
	m.RecvOps.Store(0)
	m.RecvErrOps.Store(0)
	m.SendBytes.Store(0)
	m.RecvBytes.Store(0)
	m.SendErrors.Store(0)
	m.RecvErrors.Store(0)
	m.FlowsOpened.Store(0)
	m.FlowsClosed.Store(0)
	m.Transactions.Store(0)
	m.TotalLatencyNs.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.LatencyHistogram[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// MetricsObserver feeds worker measurements into a Metrics instance. It
// satisfies the observer interface the worker loops call.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveSend(bytes uint64, success bool) {
	o.metrics.RecordSend(bytes, success)
}

func (o *MetricsObserver) ObserveRecv(bytes uint64, success bool) {
	o.metrics.RecordRecv(bytes, success)
}

func (o *MetricsObserver) ObserveRecvErr() {
	o.metrics.RecordRecvErr()
}

func (o *MetricsObserver) ObserveTransaction(latencyNs uint64) {
	o.metrics.RecordTransaction(latencyNs)
}

func (o *MetricsObserver) ObserveFlowOpen() {
	o.metrics.RecordFlowOpen()
}

func (o *MetricsObserver) ObserveFlowClose() {
	o.metrics.RecordFlowClose()
}
