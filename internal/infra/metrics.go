package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	quotesServed    atomic.Uint64
	quoteFallbacks  atomic.Uint64
	ordersPlaced    atomic.Uint64
	partialFailures atomic.Uint64
	errorsTotal     atomic.Uint64

	// Latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeSessions    atomic.Int32
	activePushFeeds   atomic.Int32
	droppedPushEvents atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordQuote records a served quote with its fetch latency.
func (m *Metrics) RecordQuote(latencyNs int64) {
	m.quotesServed.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordFallback records a quote served through the push-feed fallback.
func (m *Metrics) RecordFallback() {
	m.quoteFallbacks.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordOrderPlaced records an accepted order leg.
func (m *Metrics) RecordOrderPlaced() {
	m.ordersPlaced.Add(1)
}

// RecordPartialFailure records a two-leg operation that stopped after leg one.
func (m *Metrics) RecordPartialFailure() {
	m.partialFailures.Add(1)
}

// RecordDroppedPush records a push event discarded by a full tenant queue.
func (m *Metrics) RecordDroppedPush() {
	m.droppedPushEvents.Add(1)
}

// IncrementSessions increments active sessions by 1.
func (m *Metrics) IncrementSessions() {
	m.activeSessions.Add(1)
}

// DecrementSessions decrements active sessions by 1.
func (m *Metrics) DecrementSessions() {
	m.activeSessions.Add(-1)
}

// IncrementPushFeeds increments live push connections by 1.
func (m *Metrics) IncrementPushFeeds() {
	m.activePushFeeds.Add(1)
}

// DecrementPushFeeds decrements live push connections by 1.
func (m *Metrics) DecrementPushFeeds() {
	m.activePushFeeds.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	QuotesServed      uint64
	QuoteFallbacks    uint64
	OrdersPlaced      uint64
	PartialFailures   uint64
	ErrorsTotal       uint64
	DroppedPushEvents uint64
	AvgLatencyNs      int64
	ActiveSessions    int32
	ActivePushFeeds   int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		QuotesServed:      m.quotesServed.Load(),
		QuoteFallbacks:    m.quoteFallbacks.Load(),
		OrdersPlaced:      m.ordersPlaced.Load(),
		PartialFailures:   m.partialFailures.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		DroppedPushEvents: m.droppedPushEvents.Load(),
		AvgLatencyNs:      avgLatency,
		ActiveSessions:    m.activeSessions.Load(),
		ActivePushFeeds:   m.activePushFeeds.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.quotesServed.Store(0)
	m.quoteFallbacks.Store(0)
	m.ordersPlaced.Store(0)
	m.partialFailures.Store(0)
	m.errorsTotal.Store(0)
	m.droppedPushEvents.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeSessions.Store(0)
	m.activePushFeeds.Store(0)
}
