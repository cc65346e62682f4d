package xdispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// DefaultDeadLetterTopic receives permanently failed deliveries unless a
// subscription overrides it.
const DefaultDeadLetterTopic = "xdispatch.deadletter"

// Bus is the dispatch engine: it resolves matches, applies filters, merges
// context, and drives every delivery record through its state machine. All
// subscription and queue state is scoped to the instance, so independent
// buses can coexist in one process.
type Bus struct {
	registry *subscriptionRegistry
	sched    *scheduler
	clock    xclock.Clock
	logger   *xlog.Logger

	middlewares []Middleware
	wal         WAL

	defaultRetry        RetryPolicy
	deadLetterTopic     string
	defaultCapacity     int
	defaultOverflow     OverflowPolicy
	defaultAdmitTimeout time.Duration
	busContext          map[string]string

	onError  []DeliveryHook
	onRetry  []DeliveryHook
	onGiveUp []DeliveryHook

	observerPool *observerPool
	observersMu  sync.RWMutex
	observers    []Observer

	baseCtx    context.Context
	baseCancel context.CancelFunc
	metrics    *busMetrics
	closed     atomic.Bool
	closeOnce  sync.Once
}

// Subscribe registers a handler for a topic pattern. The returned
// Subscription is live as soon as Subscribe returns.
func (b *Bus) Subscribe(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if err := ValidatePattern(pattern); err != nil {
		return nil, err
	}

	s := &Subscription{
		pattern:       pattern,
		handler:       h,
		concurrency:   1,
		queueCapacity: b.defaultCapacity,
		overflow:      b.defaultOverflow,
		admitTimeout:  b.defaultAdmitTimeout,
		bus:           b,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.id == "" {
		s.id = newSubscriptionID()
	}

	// Panic recovery is always innermost so bus middlewares observe the
	// converted error, not the panic.
	s.effective = Chain(RecoveryMiddleware()(h), b.middlewares...)
	s.queue = newDeliveryQueue(s.queueCapacity, s.overflow)
	s.queue.onEvict = func(rec *deliveryRecord) {
		rec.sub.stats.dropped.Add(1)
		b.metrics.dropped.Add(1)
		b.notifyAsync(BusEvent{
			Type:           QueueDrop,
			Topic:          rec.event.Topic,
			SubscriptionID: rec.sub.id,
			EventID:        rec.event.ID,
		})
	}

	if err := b.registry.register(s); err != nil {
		return nil, err
	}

	if !s.inline {
		for i := 0; i < s.concurrency; i++ {
			s.workers.Add(1)
			go b.worker(s)
		}
	}
	return s, nil
}

// Unsubscribe removes a subscription by id. It is idempotent and returns
// whether the id was present. Records already admitted complete their
// current attempt; no forced interruption.
func (b *Bus) Unsubscribe(id string) bool {
	return b.registry.unregister(id)
}

// Begin opens a transaction whose buffered publishes are released
// atomically into dispatch on Commit. The optional context is merged under
// each buffered publish's own metadata.
func (b *Bus) Begin(txContext map[string]string) *Transaction {
	return &Transaction{bus: b, txContext: copyStringMap(txContext)}
}

// Snapshot returns a read-only view of the registry and queue depths for
// management surfaces.
func (b *Bus) Snapshot() []SubscriptionInfo {
	subs := b.registry.all()
	out := make([]SubscriptionInfo, 0, len(subs))
	for _, s := range subs {
		out = append(out, SubscriptionInfo{
			ID:             s.id,
			Pattern:        s.pattern,
			Priority:       s.priority,
			OneShot:        s.oneShot,
			Inline:         s.inline,
			Concurrency:    s.concurrency,
			OverflowPolicy: s.overflow,
			QueueDepth:     s.queue.depth(),
			QueueOccupancy: s.queue.occupancy(),
			Delivered:      s.stats.delivered.Load(),
			Acked:          s.stats.acked.Load(),
			Retried:        s.stats.retried.Load(),
			DeadLettered:   s.stats.deadLettered.Load(),
			Dropped:        s.stats.dropped.Load(),
			InFlight:       s.stats.inFlight.Load(),
		})
	}
	return out
}

// GetMetrics returns current bus metrics.
func (b *Bus) GetMetrics() Metrics {
	var poolDropped uint64
	if b.observerPool != nil {
		poolDropped = b.observerPool.stats().Dropped
	}
	return Metrics{
		Published:         b.metrics.published.Load(),
		Delivered:         b.metrics.delivered.Load(),
		Acked:             b.metrics.acked.Load(),
		Retried:           b.metrics.retried.Load(),
		DeadLettered:      b.metrics.deadLettered.Load(),
		Dropped:           b.metrics.dropped.Load(),
		Rejected:          b.metrics.rejected.Load(),
		Errors:            b.metrics.errors.Load(),
		EventsDropped:     poolDropped,
		AvgDeliveryTimeMs: float64(b.metrics.deliveryNs.Load()) / 1e6,
	}
}

// Health checks bus health for liveness probes.
func (b *Bus) Health(ctx context.Context) HealthStatus {
	if b.closed.Load() {
		return HealthStatus{
			Status:    "unhealthy",
			Timestamp: time.Now(),
			Message:   "bus is closed",
		}
	}

	metrics := b.GetMetrics()
	status := "healthy"
	if metrics.Errors > 0 && metrics.Delivered > 0 {
		if float64(metrics.Errors)/float64(metrics.Delivered) > 0.05 {
			status = "degraded"
		}
	}

	return HealthStatus{
		Status:    status,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}
}

// Close gracefully shuts down the bus: intake stops, the scheduler halts,
// delivery workers finish their current attempt, and the observer pool is
// drained. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	var closeErr error

	b.closeOnce.Do(func() {
		b.closed.Store(true)

		// 1. Stop the scheduler so no retry or delayed publish re-enters.
		b.sched.close()

		// 2. Close all queues (pending dropped) and wait for workers.
		subs := b.registry.closeAll()
		for _, s := range subs {
			s.workers.Wait()
		}

		// 3. Drain observers.
		if b.observerPool != nil {
			if err := b.observerPool.close(5 * time.Second); err != nil {
				b.logger.Warn().Err(err).Msg("xdispatch: observer pool shutdown timeout")
				closeErr = err
			}
		}

		b.baseCancel()
	})

	return closeErr
}

// AddObserver registers an observer (thread-safe).
func (b *Bus) AddObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	b.observers = append(b.observers, obs)
	b.observersMu.Unlock()
}

// RemoveObserver removes a previously added observer.
func (b *Bus) RemoveObserver(obs Observer) {
	if obs == nil {
		return
	}
	b.observersMu.Lock()
	defer b.observersMu.Unlock()

	for i, o := range b.observers {
		if o == obs {
			b.observers = append(b.observers[:i], b.observers[i+1:]...)
			break
		}
	}
}

// notifyAsync dispatches a bus event to observers without blocking the
// caller.
func (b *Bus) notifyAsync(e BusEvent) {
	if b.observerPool == nil {
		return
	}

	b.observersMu.RLock()
	count := len(b.observers)
	if count == 0 {
		b.observersMu.RUnlock()
		return
	}
	observers := make([]Observer, count)
	copy(observers, b.observers)
	b.observersMu.RUnlock()

	b.observerPool.notify(e, observers)
}

func copyStringMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
