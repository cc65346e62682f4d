package xdispatch

import (
	"context"
	"strconv"
)

// routeDeadLetter republishes a permanently failed delivery to the
// subscription's dead-letter topic (or the bus default), preserving the
// original topic, payload and attempt count and adding the terminal error
// as context. The derived event is an ordinary publish, so dead-letter
// topics can have their own subscribers; it is marked so its own deliveries
// are best-effort and never retried.
func (b *Bus) routeDeadLetter(sub *Subscription, rec *deliveryRecord, finalErr error) {
	target := sub.deadLetterTarget()
	if target == "" {
		return
	}

	ev := rec.event
	derived := &Event{
		ID:          newEventID(),
		Topic:       target,
		Payload:     ev.Payload,
		PublishedAt: b.clock.Now(),
		Context: ev.Context.With(map[string]string{
			OriginTopicKey:  ev.Topic,
			AttemptsKey:     strconv.Itoa(rec.snapshot().Attempt),
			FinalErrorKey:   finalErr.Error(),
			SubscriptionKey: sub.id,
		}),
		deadLetter: true,
	}

	b.notifyAsync(BusEvent{
		Type:           DeadLetter,
		Topic:          target,
		SubscriptionID: sub.id,
		EventID:        derived.ID,
		Err:            finalErr,
	})

	if err := b.dispatch(b.baseCtx, derived); err != nil {
		b.logger.Warn().Err(err).Msg("xdispatch: dead-letter publish failed")
	}
}

// RequeueDeadLetter re-publishes a dead-letter event back to its original
// topic with a fresh id and a reset attempt budget. The event must carry
// the origin-topic context key added by the router.
func (b *Bus) RequeueDeadLetter(ctx context.Context, ev *Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	origin, ok := ev.Context.Get(OriginTopicKey)
	if !ok {
		return &ValidationError{Value: ev.Topic, Reason: "event carries no origin topic"}
	}
	if err := ValidateTopic(origin); err != nil {
		return err
	}

	requeued := &Event{
		ID:          newEventID(),
		Topic:       origin,
		Payload:     ev.Payload,
		PublishedAt: b.clock.Now(),
		Context:     ev.Context,
	}
	return b.dispatch(ctx, requeued)
}
