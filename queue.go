package xdispatch

import (
	"context"
	"errors"
	"sync"
	"time"
)

// OverflowPolicy decides what happens when an admission would push a
// subscription queue past its capacity.
type OverflowPolicy uint8

const (
	// Block suspends the publisher until space frees, the caller context is
	// done, or the subscription's admit timeout elapses.
	Block OverflowPolicy = iota
	// DropOldest silently evicts the oldest pending record to make room; the
	// evicted record gets no retry and no dead-letter.
	DropOldest
	// Reject fails the publish synchronously with a QueueFullError for this
	// subscription only.
	Reject
)

func (p OverflowPolicy) String() string {
	switch p {
	case Block:
		return "block"
	case DropOldest:
		return "drop-oldest"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

var (
	errQueueClosed  = errors.New("xdispatch: subscription queue closed")
	errEventDropped = errors.New("xdispatch: event dropped by overflow policy")
)

// deliveryQueue is the per-subscription bounded buffer behind the
// backpressure controller. Capacity bounds pending + in-flight +
// retry-scheduled records: a slot is taken at admission and released only
// when the record reaches a terminal state or is evicted. Locking is scoped
// to the one subscription, so a full queue never causes head-of-line
// blocking across unrelated subscriptions.
type deliveryQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []*deliveryRecord
	capacity int
	policy   OverflowPolicy
	occupied int
	closed   bool
	draining bool
	onEvict  func(*deliveryRecord)
}

func newDeliveryQueue(capacity int, policy OverflowPolicy) *deliveryQueue {
	if capacity < 1 {
		capacity = 1
	}
	q := &deliveryQueue{capacity: capacity, policy: policy}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// admit takes a capacity slot for rec and appends it in arrival order.
// Returns errEventDropped when the overflow policy silently discarded the
// incoming record, errQueueClosed after close.
func (q *deliveryQueue) admit(ctx context.Context, rec *deliveryRecord, timeout time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.policy == Block && q.occupied >= q.capacity && !q.closed {
		// cond.Wait cannot watch a context or a deadline directly; wake all
		// waiters when either fires and re-check conditions in the loop.
		stop := context.AfterFunc(ctx, q.cond.Broadcast)
		defer stop()
		start := time.Now()
		if timeout > 0 {
			t := time.AfterFunc(timeout, q.cond.Broadcast)
			defer t.Stop()
		}
		for q.occupied >= q.capacity && !q.closed {
			if err := ctx.Err(); err != nil {
				return err
			}
			if timeout > 0 && time.Since(start) >= timeout {
				return &QueueFullError{SubscriptionID: rec.sub.id, Capacity: q.capacity}
			}
			q.cond.Wait()
		}
	}

	if q.closed {
		return errQueueClosed
	}

	if q.occupied >= q.capacity {
		switch q.policy {
		case Reject:
			return &QueueFullError{SubscriptionID: rec.sub.id, Capacity: q.capacity}
		case DropOldest:
			if len(q.pending) == 0 {
				// Everything occupying the queue is in flight or waiting on a
				// retry; nothing is evictable, so the incoming record is the
				// one silently discarded.
				return errEventDropped
			}
			evicted := q.pending[0]
			q.pending = q.pending[1:]
			q.occupied--
			if q.onEvict != nil {
				q.onEvict(evicted)
			}
		}
	}

	q.pending = append(q.pending, rec)
	q.occupied++
	q.cond.Broadcast()
	return nil
}

// readmit puts a retry-scheduled record at the head of the queue. Its
// capacity slot was never released, so occupancy is unchanged.
func (q *deliveryQueue) readmit(rec *deliveryRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed && !q.draining {
		q.occupied--
		q.cond.Broadcast()
		return
	}
	q.pending = append([]*deliveryRecord{rec}, q.pending...)
	q.cond.Broadcast()
}

// next blocks until a record is available. It returns false once the queue
// is closed and, in drain mode, emptied.
func (q *deliveryQueue) next() (*deliveryRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 {
		if q.closed {
			return nil, false
		}
		q.cond.Wait()
	}
	rec := q.pending[0]
	q.pending = q.pending[1:]
	return rec, true
}

// release frees the capacity slot of a record that reached a terminal state.
func (q *deliveryQueue) release() {
	q.mu.Lock()
	q.occupied--
	q.cond.Broadcast()
	q.mu.Unlock()
}

// setCapacity changes the bound for subsequent admissions only; records
// already admitted are never evicted by a shrink.
func (q *deliveryQueue) setCapacity(n int) {
	if n < 1 {
		n = 1
	}
	q.mu.Lock()
	q.capacity = n
	q.cond.Broadcast()
	q.mu.Unlock()
}

// close stops admissions. With drain, workers finish the already-admitted
// backlog; without, pending records are discarded.
func (q *deliveryQueue) close(drain bool) {
	q.mu.Lock()
	q.closed = true
	q.draining = drain
	if !drain {
		q.occupied -= len(q.pending)
		q.pending = nil
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *deliveryQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *deliveryQueue) occupancy() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.occupied
}
