package xdispatch

import (
	"sync/atomic"
	"time"
)

// busMetrics uses lock-free atomics on the hot path.
type busMetrics struct {
	published    atomic.Uint64
	delivered    atomic.Uint64
	acked        atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	dropped      atomic.Uint64
	rejected     atomic.Uint64
	errors       atomic.Uint64
	deliveryNs   atomic.Int64
}

// recordDeliveryTime keeps an exponential moving average of delivery time.
func (m *busMetrics) recordDeliveryTime(ns int64) {
	const alpha = 0.2
	current := m.deliveryNs.Load()
	if current == 0 {
		m.deliveryNs.Store(ns)
		return
	}
	m.deliveryNs.Store(int64(float64(ns)*alpha + float64(current)*(1-alpha)))
}

// Metrics is the observable telemetry of a bus instance.
type Metrics struct {
	Published         uint64
	Delivered         uint64
	Acked             uint64
	Retried           uint64
	DeadLettered      uint64
	Dropped           uint64
	Rejected          uint64
	Errors            uint64
	EventsDropped     uint64 // observer events dropped by the async pool
	AvgDeliveryTimeMs float64
}

// HealthStatus indicates bus health for liveness probes.
type HealthStatus struct {
	Status    string // "healthy", "degraded", "unhealthy"
	Metrics   Metrics
	Timestamp time.Time
	Message   string
}

// SubscriptionInfo is the read-only registry view exposed to management
// surfaces.
type SubscriptionInfo struct {
	ID             string
	Pattern        string
	Priority       int
	OneShot        bool
	Inline         bool
	Concurrency    int
	OverflowPolicy OverflowPolicy
	QueueDepth     int
	QueueOccupancy int
	Delivered      uint64
	Acked          uint64
	Retried        uint64
	DeadLettered   uint64
	Dropped        uint64
	InFlight       int64
}
