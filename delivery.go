package xdispatch

import (
	"sync"
	"time"
)

// DeliveryState is the per-record delivery state machine:
// Pending → InFlight → {Acked | RetryScheduled | DeadLettered},
// RetryScheduled → InFlight after the backoff elapses.
type DeliveryState uint8

const (
	Pending DeliveryState = iota
	InFlight
	Acked
	RetryScheduled
	DeadLettered
)

func (s DeliveryState) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Acked:
		return "acked"
	case RetryScheduled:
		return "retry_scheduled"
	case DeadLettered:
		return "dead_lettered"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s DeliveryState) Terminal() bool { return s == Acked || s == DeadLettered }

// deliveryRecord is the unit the engine actually schedules: one per
// (event, subscription) pair that survived the filter.
type deliveryRecord struct {
	event *Event
	sub   *Subscription

	mu          sync.Mutex
	state       DeliveryState
	attempt     int
	nextRetryAt time.Time
	lastErr     error
}

func newDeliveryRecord(ev *Event, sub *Subscription) *deliveryRecord {
	return &deliveryRecord{event: ev, sub: sub}
}

// transition moves the record to next and returns the snapshot hooks see.
// The attempt counter is monotonically non-decreasing and bumped only on
// entry to InFlight.
func (r *deliveryRecord) transition(next DeliveryState, nextRetryAt time.Time, err error) DeliveryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	if next == InFlight && r.state != InFlight {
		r.attempt++
	}
	r.state = next
	r.nextRetryAt = nextRetryAt
	if err != nil {
		r.lastErr = err
	}
	return r.infoLocked()
}

func (r *deliveryRecord) snapshot() DeliveryInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked()
}

func (r *deliveryRecord) infoLocked() DeliveryInfo {
	return DeliveryInfo{
		EventID:        r.event.ID,
		Topic:          r.event.Topic,
		SubscriptionID: r.sub.id,
		State:          r.state,
		Attempt:        r.attempt,
		NextRetryAt:    r.nextRetryAt,
		Err:            r.lastErr,
	}
}

// DeliveryInfo is the immutable view of a delivery record passed to hooks.
type DeliveryInfo struct {
	EventID        string
	Topic          string
	SubscriptionID string
	State          DeliveryState
	Attempt        int
	NextRetryAt    time.Time
	Err            error
}

// DeliveryHook observes delivery lifecycle points. Hooks run synchronously
// on the delivering goroutine, per-subscription hooks before global ones,
// each list in registration order.
type DeliveryHook func(DeliveryInfo)
