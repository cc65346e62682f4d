package xdispatch

import (
	"context"
	"time"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// BusBuilder constructs Bus instances (Builder pattern).
type BusBuilder struct {
	clock       xclock.Clock
	logger      *xlog.Logger
	middlewares []Middleware
	observers   []Observer
	wal         WAL

	poolWorkers int
	poolBuffer  int

	defaultRetry        *RetryPolicy
	deadLetterTopic     string
	defaultCapacity     int
	defaultOverflow     OverflowPolicy
	defaultAdmitTimeout time.Duration
	busContext          map[string]string

	onError  []DeliveryHook
	onRetry  []DeliveryHook
	onGiveUp []DeliveryHook
}

// NewBusBuilder returns a new builder with production-safe defaults.
func NewBusBuilder() *BusBuilder {
	return &BusBuilder{
		deadLetterTopic: DefaultDeadLetterTopic,
		defaultCapacity: 1024,
		defaultOverflow: Block,
		poolWorkers:     4,
		poolBuffer:      1024,
	}
}

func (bb *BusBuilder) WithClock(c xclock.Clock) *BusBuilder {
	bb.clock = c
	return bb
}

func (bb *BusBuilder) WithLogger(l *xlog.Logger) *BusBuilder {
	bb.logger = l
	return bb
}

func (bb *BusBuilder) WithMiddleware(mw ...Middleware) *BusBuilder {
	bb.middlewares = append(bb.middlewares, mw...)
	return bb
}

func (bb *BusBuilder) WithObserver(obs ...Observer) *BusBuilder {
	for _, o := range obs {
		if o != nil {
			bb.observers = append(bb.observers, o)
		}
	}
	return bb
}

// WithObserverPool sizes the async observer dispatch pool.
func (bb *BusBuilder) WithObserverPool(workers, bufferSize int) *BusBuilder {
	if workers > 0 {
		bb.poolWorkers = workers
	}
	if bufferSize > 0 {
		bb.poolBuffer = bufferSize
	}
	return bb
}

// WithWAL configures the persistence collaborator; the engine appends every
// event before queue admission.
func (bb *BusBuilder) WithWAL(w WAL) *BusBuilder {
	bb.wal = w
	return bb
}

// WithDefaultRetryPolicy overrides the engine-wide retry policy applied to
// subscriptions without their own.
func (bb *BusBuilder) WithDefaultRetryPolicy(p RetryPolicy) *BusBuilder {
	bb.defaultRetry = &p
	return bb
}

// WithDeadLetterTopic changes the default dead-letter destination; an empty
// topic disables dead-lettering for subscriptions without an override.
func (bb *BusBuilder) WithDeadLetterTopic(topic string) *BusBuilder {
	bb.deadLetterTopic = topic
	return bb
}

// WithDefaultQueueCapacity bounds subscription queues lacking an explicit
// capacity.
func (bb *BusBuilder) WithDefaultQueueCapacity(n int) *BusBuilder {
	if n > 0 {
		bb.defaultCapacity = n
	}
	return bb
}

// WithDefaultOverflowPolicy selects the admission behavior for
// subscriptions lacking an explicit policy (default Block).
func (bb *BusBuilder) WithDefaultOverflowPolicy(p OverflowPolicy) *BusBuilder {
	bb.defaultOverflow = p
	return bb
}

// WithDefaultAdmitTimeout bounds Block-policy suspensions bus-wide.
func (bb *BusBuilder) WithDefaultAdmitTimeout(d time.Duration) *BusBuilder {
	bb.defaultAdmitTimeout = d
	return bb
}

// WithContext sets the bus-level default context merged under every
// publish's own metadata.
func (bb *BusBuilder) WithContext(ctx map[string]string) *BusBuilder {
	bb.busContext = copyStringMap(ctx)
	return bb
}

// WithErrorHook registers a global hook invoked for every unhandled handler
// error, after any per-subscription hooks.
func (bb *BusBuilder) WithErrorHook(h DeliveryHook) *BusBuilder {
	bb.onError = append(bb.onError, h)
	return bb
}

// WithRetryHook registers a global hook fired when a retry is scheduled.
func (bb *BusBuilder) WithRetryHook(h DeliveryHook) *BusBuilder {
	bb.onRetry = append(bb.onRetry, h)
	return bb
}

// WithGiveUpHook registers a global hook fired when attempts are exhausted.
func (bb *BusBuilder) WithGiveUpHook(h DeliveryHook) *BusBuilder {
	bb.onGiveUp = append(bb.onGiveUp, h)
	return bb
}

func (bb *BusBuilder) Build() (*Bus, error) {
	clk := bb.clock
	if clk == nil {
		clk = xclock.Default()
	}
	lg := bb.logger
	if lg == nil {
		lg = xlog.Default()
	}
	retry := DefaultRetryPolicy()
	if bb.defaultRetry != nil {
		retry = *bb.defaultRetry
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	b := &Bus{
		registry:            newSubscriptionRegistry(),
		clock:               clk,
		logger:              lg,
		middlewares:         bb.middlewares,
		wal:                 bb.wal,
		defaultRetry:        retry,
		deadLetterTopic:     bb.deadLetterTopic,
		defaultCapacity:     bb.defaultCapacity,
		defaultOverflow:     bb.defaultOverflow,
		defaultAdmitTimeout: bb.defaultAdmitTimeout,
		busContext:          bb.busContext,
		onError:             bb.onError,
		onRetry:             bb.onRetry,
		onGiveUp:            bb.onGiveUp,
		baseCtx:             baseCtx,
		baseCancel:          baseCancel,
		metrics:             &busMetrics{},
	}
	b.sched = newScheduler(clk)
	b.observerPool = newObserverPool(baseCtx, bb.poolWorkers, bb.poolBuffer)

	// Attach the logging observer first for dependable telemetry unless one
	// was supplied externally.
	hasLogging := false
	for _, o := range bb.observers {
		if _, ok := o.(LoggingObserver); ok {
			hasLogging = true
			break
		}
	}
	if !hasLogging && lg != nil {
		b.AddObserver(LoggingObserver{Logger: lg})
	}
	for _, o := range bb.observers {
		b.AddObserver(o)
	}

	return b, nil
}

// New constructs a Bus via Builder and returns a close func for convenience.
func New(init func(b *BusBuilder)) (*Bus, func() error, error) {
	bb := NewBusBuilder()
	if init != nil {
		init(bb)
	}
	bus, err := bb.Build()
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() error { return bus.Close(context.Background()) }
	return bus, closeFn, nil
}
