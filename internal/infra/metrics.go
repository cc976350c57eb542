package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	framesReceived  atomic.Uint64
	framesMalformed atomic.Uint64
	staleDiscarded  atomic.Uint64
	reconnects      atomic.Uint64
	ordersFilled    atomic.Uint64
	ordersRejected  atomic.Uint64
	fetchFailures   atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
}

// GlobalMetrics is the default instance used when none is injected.
var GlobalMetrics = &Metrics{}

// RecordFrame records an inbound stream frame.
func (m *Metrics) RecordFrame() {
	m.framesReceived.Add(1)
}

// RecordMalformed records a frame dropped because it did not parse.
func (m *Metrics) RecordMalformed() {
	m.framesMalformed.Add(1)
}

// RecordStale records an event or fetch result discarded for an old generation or symbol.
func (m *Metrics) RecordStale() {
	m.staleDiscarded.Add(1)
}

// RecordReconnect records a scheduled reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordOrderFilled records a filled order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordOrderRejected records a rejected order.
func (m *Metrics) RecordOrderRejected() {
	m.ordersRejected.Add(1)
}

// RecordFetchFailure records a failed snapshot fetch.
func (m *Metrics) RecordFetchFailure() {
	m.fetchFailures.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	FramesReceived    uint64
	FramesMalformed   uint64
	StaleDiscarded    uint64
	Reconnects        uint64
	OrdersFilled      uint64
	OrdersRejected    uint64
	FetchFailures     uint64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		FramesReceived:    m.framesReceived.Load(),
		FramesMalformed:   m.framesMalformed.Load(),
		StaleDiscarded:    m.staleDiscarded.Load(),
		Reconnects:        m.reconnects.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		OrdersRejected:    m.ordersRejected.Load(),
		FetchFailures:     m.fetchFailures.Load(),
		ActiveConnections: m.activeConnections.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.framesReceived.Store(0)
	m.framesMalformed.Store(0)
	m.staleDiscarded.Store(0)
	m.reconnects.Store(0)
	m.ordersFilled.Store(0)
	m.ordersRejected.Store(0)
	m.fetchFailures.Store(0)
	m.activeConnections.Store(0)
}
