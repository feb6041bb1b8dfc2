// Package metrics tracks per-transaction latency and throughput statistics
// for a simulation run, mirroring the atomic-counter/histogram/Observer
// shape used elsewhere in this stack's ambient tooling.
package metrics

import "sync/atomic"

// LatencyBuckets defines the full_latency histogram buckets in cycles.
// Buckets cover short bus hops through long starvation tails under
// PRIORITY arbitration.
var LatencyBuckets = []uint64{
	10,
	50,
	100,
	500,
	1_000,
	5_000,
	50_000,
	500_000,
}

const numLatencyBuckets = 8

// Metrics accumulates counters across the lifetime of a simulation run.
type Metrics struct {
	ReadOps              atomic.Uint64
	WriteOps             atomic.Uint64
	BroadcastOps         atomic.Uint64
	InvAcksAccounted     atomic.Uint64
	InvCompletesObserved atomic.Uint64

	ReadBytes  atomic.Uint64
	WriteBytes atomic.Uint64

	ProtocolViolations atomic.Uint64

	TotalLatencyCycles atomic.Uint64
	TxCount            atomic.Uint64

	LatencyBuckets [numLatencyBuckets]atomic.Uint64

	MaxQueueDepth atomic.Uint32
}

// NewMetrics creates a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTransaction records one completed transaction's end-to-end latency,
// keyed by operation so read/write/broadcast throughput can be reported
// separately.
func (m *Metrics) RecordTransaction(op string, bytes uint64, fullLatencyCycles int64) {
	switch op {
	case "READ_MEM":
		m.ReadOps.Add(1)
		m.ReadBytes.Add(bytes)
	case "WRITE_MEM":
		m.WriteOps.Add(1)
		m.WriteBytes.Add(bytes)
	case "BROADCAST_INVALIDATE":
		m.BroadcastOps.Add(1)
	case "INV_COMPLETE":
		m.InvCompletesObserved.Add(1)
	}
	m.recordLatency(uint64(fullLatencyCycles))
}

// RecordInvAck counts one accounted INV_ACK toward a broadcast's fanout.
func (m *Metrics) RecordInvAck() {
	m.InvAcksAccounted.Add(1)
}

// RecordProtocolViolation counts one logged-and-dropped protocol violation,
// e.g. an INV_ACK carrying an unknown broadcast id.
func (m *Metrics) RecordProtocolViolation() {
	m.ProtocolViolations.Add(1)
}

// RecordQueueDepth updates the observed peak queue depth.
func (m *Metrics) RecordQueueDepth(depth uint32) {
	for {
		cur := m.MaxQueueDepth.Load()
		if depth <= cur {
			return
		}
		if m.MaxQueueDepth.CompareAndSwap(cur, depth) {
			return
		}
	}
}

func (m *Metrics) recordLatency(cycles uint64) {
	m.TotalLatencyCycles.Add(cycles)
	m.TxCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if cycles <= bucket {
			m.LatencyBuckets[i].Add(1)
		}
	}
}

// Snapshot is a point-in-time, lock-free read of Metrics with derived
// statistics computed.
type Snapshot struct {
	ReadOps      uint64
	WriteOps     uint64
	BroadcastOps uint64
	ReadBytes    uint64
	WriteBytes   uint64

	ProtocolViolations uint64
	InvAcksAccounted   uint64

	TxCount          uint64
	AvgLatencyCycles uint64
	LatencyP50       uint64
	LatencyP99       uint64

	MaxQueueDepth uint32

	LatencyHistogram [numLatencyBuckets]uint64
}

// Snapshot captures the current counters plus derived percentile latencies.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		ReadOps:            m.ReadOps.Load(),
		WriteOps:           m.WriteOps.Load(),
		BroadcastOps:       m.BroadcastOps.Load(),
		ReadBytes:          m.ReadBytes.Load(),
		WriteBytes:         m.WriteBytes.Load(),
		ProtocolViolations: m.ProtocolViolations.Load(),
		InvAcksAccounted:   m.InvAcksAccounted.Load(),
		MaxQueueDepth:      m.MaxQueueDepth.Load(),
	}

	s.TxCount = m.TxCount.Load()
	total := m.TotalLatencyCycles.Load()
	if s.TxCount > 0 {
		s.AvgLatencyCycles = total / s.TxCount
	}
	for i := 0; i < numLatencyBuckets; i++ {
		s.LatencyHistogram[i] = m.LatencyBuckets[i].Load()
	}
	if s.TxCount > 0 {
		s.LatencyP50 = m.calculatePercentile(0.50)
		s.LatencyP99 = m.calculatePercentile(0.99)
	}
	return s
}

// calculatePercentile estimates the latency at percentile p (0..1) by
// linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(p float64) uint64 {
	total := m.TxCount.Load()
	if total == 0 {
		return 0
	}
	target := uint64(float64(total) * p)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		count := m.LatencyBuckets[i].Load()
		if count >= target {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.LatencyBuckets[i-1].Load()
			}
			if count == prevCount {
				return bucket
			}
			frac := float64(target-prevCount) / float64(count-prevCount)
			return prevBucket + uint64(frac*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Observer allows pluggable collection of per-transaction events without
// coupling the Interconnect/PE workers to the concrete Metrics type.
type Observer interface {
	ObserveTransaction(op string, bytes uint64, fullLatencyCycles int64)
	ObserveInvAck()
	ObserveProtocolViolation()
	ObserveQueueDepth(depth uint32)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveTransaction(string, uint64, int64) {}
func (NoOpObserver) ObserveInvAck()                           {}
func (NoOpObserver) ObserveProtocolViolation()                {}
func (NoOpObserver) ObserveQueueDepth(uint32)                 {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	M *Metrics
}

// NewMetricsObserver creates an observer backed by m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{M: m}
}

func (o *MetricsObserver) ObserveTransaction(op string, bytes uint64, fullLatencyCycles int64) {
	o.M.RecordTransaction(op, bytes, fullLatencyCycles)
}

func (o *MetricsObserver) ObserveInvAck() {
	o.M.RecordInvAck()
}

func (o *MetricsObserver) ObserveProtocolViolation() {
	o.M.RecordProtocolViolation()
}

func (o *MetricsObserver) ObserveQueueDepth(depth uint32) {
	o.M.RecordQueueDepth(depth)
}

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = (*NoOpObserver)(nil)
)
