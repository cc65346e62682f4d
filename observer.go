package xdispatch

import (
	"time"

	"github.com/trickstertwo/xlog"
)

// BusEventType enumerates dispatch lifecycle events for the Observer pattern.
type BusEventType string

const (
	PublishStart   BusEventType = "publish_start"
	PublishDone    BusEventType = "publish_done"
	DeliverStart   BusEventType = "deliver_start"
	DeliverDone    BusEventType = "deliver_done"
	RetryWait      BusEventType = "retry_scheduled"
	GiveUp         BusEventType = "give_up"
	DeadLetter     BusEventType = "dead_letter"
	QueueDrop      BusEventType = "queue_drop"
	QueueReject    BusEventType = "queue_reject"
	TxCommit       BusEventType = "tx_commit"
	TxRollback     BusEventType = "tx_rollback"
	ObservedError  BusEventType = "error"
)

// BusEvent carries telemetry for observers.
type BusEvent struct {
	Type           BusEventType
	Topic          string
	SubscriptionID string
	EventID        string
	Attempt        int
	Duration       time.Duration
	Err            error

	// Internal: attached for async dispatch.
	observers []Observer
}

// Observer receives bus lifecycle events. Implementations should be
// non-blocking; slow observers only ever cost dropped telemetry, never
// dispatch latency.
type Observer interface {
	OnBusEvent(e BusEvent)
}

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e BusEvent)

func (f ObserverFunc) OnBusEvent(e BusEvent) { f(e) }

// LoggingObserver emits bus events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnBusEvent(e BusEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("subscription", e.SubscriptionID),
		xlog.Str("event_id", e.EventID),
	)
	switch e.Type {
	case ObservedError, GiveUp, DeadLetter:
		ev.Warn().Err(e.Err).Msg("xdispatch event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xdispatch event")
	}
}
