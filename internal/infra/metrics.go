package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	webhooksReceived   atomic.Uint64
	validationRejected atomic.Uint64
	filterRejected     atomic.Uint64
	delivered          atomic.Uint64
	deliveryFailed     atomic.Uint64
	retriesTotal       atomic.Uint64
	queueOverflows     atomic.Uint64

	// Latency tracking (full pipeline, reception to outcome)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	queueDepth  atomic.Int32
	circuitOpen atomic.Int32 // 1 = open, 0 = closed
}

// NewMetrics creates an empty metrics set.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordReceived records an inbound webhook.
func (m *Metrics) RecordReceived() {
	m.webhooksReceived.Add(1)
}

// RecordValidationReject records a message rejected by structural validation.
func (m *Metrics) RecordValidationReject() {
	m.validationRejected.Add(1)
}

// RecordFilterReject records a message rejected by content policy.
func (m *Metrics) RecordFilterReject() {
	m.filterRejected.Add(1)
}

// RecordDelivered records a successful delivery with its pipeline latency.
func (m *Metrics) RecordDelivered(latencyNs int64) {
	m.delivered.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordDeliveryFailed records a terminally failed delivery.
func (m *Metrics) RecordDeliveryFailed() {
	m.deliveryFailed.Add(1)
}

// RecordRetry records one retried delivery attempt.
func (m *Metrics) RecordRetry() {
	m.retriesTotal.Add(1)
}

// RecordQueueOverflow records a message rejected by backpressure.
func (m *Metrics) RecordQueueOverflow() {
	m.queueOverflows.Add(1)
}

// IncrementQueueDepth increments the pending-delivery gauge by 1.
func (m *Metrics) IncrementQueueDepth() {
	m.queueDepth.Add(1)
}

// DecrementQueueDepth decrements the pending-delivery gauge by 1.
func (m *Metrics) DecrementQueueDepth() {
	m.queueDepth.Add(-1)
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	WebhooksReceived   uint64    `json:"webhooks_received"`
	ValidationRejected uint64    `json:"validation_rejected"`
	FilterRejected     uint64    `json:"filter_rejected"`
	Delivered          uint64    `json:"delivered"`
	DeliveryFailed     uint64    `json:"delivery_failed"`
	RetriesTotal       uint64    `json:"retries_total"`
	QueueOverflows     uint64    `json:"queue_overflows"`
	AvgLatencyNs       int64     `json:"avg_latency_ns"`
	QueueDepth         int32     `json:"queue_depth"`
	CircuitOpen        bool      `json:"circuit_open"`
	Timestamp          time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		WebhooksReceived:   m.webhooksReceived.Load(),
		ValidationRejected: m.validationRejected.Load(),
		FilterRejected:     m.filterRejected.Load(),
		Delivered:          m.delivered.Load(),
		DeliveryFailed:     m.deliveryFailed.Load(),
		RetriesTotal:       m.retriesTotal.Load(),
		QueueOverflows:     m.queueOverflows.Load(),
		AvgLatencyNs:       avgLatency,
		QueueDepth:         m.queueDepth.Load(),
		CircuitOpen:        m.circuitOpen.Load() == 1,
		Timestamp:          time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.webhooksReceived.Store(0)
	m.validationRejected.Store(0)
	m.filterRejected.Store(0)
	m.delivered.Store(0)
	m.deliveryFailed.Store(0)
	m.retriesTotal.Store(0)
	m.queueOverflows.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.queueDepth.Store(0)
	m.circuitOpen.Store(0)
}
