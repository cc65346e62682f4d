package xdispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Handler processes one delivery. A non-nil error (or a panic, or exceeding
// the attempt timeout) sends the record through the retry pipeline.
type Handler func(ctx context.Context, ev *Event) error

// Filter decides per subscription whether an event is delivered at all.
// A false result silently skips the event: no record, no error.
type Filter func(ev *Event) bool

// Subscription binds a handler to a topic pattern with its own delivery
// queue, retry policy and hooks. Construct via Bus.Subscribe.
type Subscription struct {
	id       string
	pattern  string
	priority int
	oneShot  bool
	inline   bool
	filter   Filter

	handler   Handler // raw, as passed by the caller
	effective Handler // wrapped with recovery and bus middlewares

	retry           *RetryPolicy
	attemptTimeout  time.Duration
	admitTimeout    time.Duration
	deadLetterTopic string
	concurrency     int
	queueCapacity   int
	overflow        OverflowPolicy

	onError  []DeliveryHook
	onRetry  []DeliveryHook
	onGiveUp []DeliveryHook

	queue    *deliveryQueue
	regIndex uint64
	bus      *Bus
	claimed  atomic.Bool // one-shot: set when its only record is created
	closed   atomic.Bool
	workers  sync.WaitGroup

	stats subStats
}

type subStats struct {
	delivered    atomic.Uint64
	acked        atomic.Uint64
	retried      atomic.Uint64
	deadLettered atomic.Uint64
	dropped      atomic.Uint64
	inFlight     atomic.Int64
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the topic pattern the subscription matches.
func (s *Subscription) Pattern() string { return s.pattern }

// Priority returns the dispatch priority (higher first).
func (s *Subscription) Priority() int { return s.priority }

// SetQueueCapacity changes the queue bound at runtime. It applies to
// subsequent admissions only.
func (s *Subscription) SetQueueCapacity(n int) { s.queue.setCapacity(n) }

// QueueDepth returns the number of pending records.
func (s *Subscription) QueueDepth() int { return s.queue.depth() }

// Close unregisters the subscription. Records already admitted complete
// their current attempt; future publishes no longer match.
func (s *Subscription) Close() error {
	s.bus.Unsubscribe(s.id)
	return nil
}

// claimOneShot atomically claims the single delivery a one-shot
// subscription ever receives.
func (s *Subscription) claimOneShot() bool {
	return s.claimed.CompareAndSwap(false, true)
}

func (s *Subscription) retryPolicy() RetryPolicy {
	if s.retry != nil {
		return *s.retry
	}
	return s.bus.defaultRetry
}

func (s *Subscription) deadLetterTarget() string {
	if s.deadLetterTopic != "" {
		return s.deadLetterTopic
	}
	return s.bus.deadLetterTopic
}

// SubscribeOption configures a subscription at registration time.
type SubscribeOption func(*Subscription)

// WithID fixes the subscription id instead of generating one. Registering a
// second subscription with the same id fails with DuplicateIDError.
func WithID(id string) SubscribeOption {
	return func(s *Subscription) { s.id = id }
}

// WithPriority orders fan-out: higher priorities are admitted first; ties
// break by registration order.
func WithPriority(p int) SubscribeOption {
	return func(s *Subscription) { s.priority = p }
}

// WithOneShot makes the subscription fire for exactly one dispatch attempt,
// regardless of that attempt's outcome. It is removed from the registry the
// moment its record turns in-flight and never survives to a retry.
func WithOneShot() SubscribeOption {
	return func(s *Subscription) { s.oneShot = true }
}

// WithInline runs the handler on the publishing goroutine before Publish
// returns. Failures propagate to the publisher and skip the retry pipeline.
func WithInline() SubscribeOption {
	return func(s *Subscription) { s.inline = true }
}

// WithFilter skips events the predicate rejects, silently.
func WithFilter(f Filter) SubscribeOption {
	return func(s *Subscription) { s.filter = f }
}

// WithRetryPolicy overrides the bus default retry policy.
func WithRetryPolicy(p RetryPolicy) SubscribeOption {
	return func(s *Subscription) { s.retry = &p }
}

// WithQueueCapacity bounds pending + in-flight + retry-scheduled records.
func WithQueueCapacity(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.queueCapacity = n
		}
	}
}

// WithOverflowPolicy selects Block, DropOldest or Reject (default Block).
func WithOverflowPolicy(p OverflowPolicy) SubscribeOption {
	return func(s *Subscription) { s.overflow = p }
}

// WithConcurrency sets the number of delivery workers. The default of 1
// guarantees FIFO delivery; above 1, relative order is not guaranteed.
func WithConcurrency(n int) SubscribeOption {
	return func(s *Subscription) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithAttemptTimeout bounds a single handler invocation; exceeding it is a
// delivery failure like any handler error.
func WithAttemptTimeout(d time.Duration) SubscribeOption {
	return func(s *Subscription) { s.attemptTimeout = d }
}

// WithAdmitTimeout bounds how long a Block-policy publish may suspend.
func WithAdmitTimeout(d time.Duration) SubscribeOption {
	return func(s *Subscription) { s.admitTimeout = d }
}

// WithDeadLetterTopic overrides the bus-level dead-letter topic.
func WithDeadLetterTopic(topic string) SubscribeOption {
	return func(s *Subscription) { s.deadLetterTopic = topic }
}

// WithErrorHook observes every failed attempt, before any global hook.
func WithErrorHook(h DeliveryHook) SubscribeOption {
	return func(s *Subscription) { s.onError = append(s.onError, h) }
}

// WithRetryHook fires only when a retry is actually scheduled.
func WithRetryHook(h DeliveryHook) SubscribeOption {
	return func(s *Subscription) { s.onRetry = append(s.onRetry, h) }
}

// WithGiveUpHook fires once when attempts are exhausted, before the record
// is handed to the dead-letter router.
func WithGiveUpHook(h DeliveryHook) SubscribeOption {
	return func(s *Subscription) { s.onGiveUp = append(s.onGiveUp, h) }
}

func newSubscriptionID() string { return uuid.NewString() }
