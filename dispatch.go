package xdispatch

import (
	"context"
	"errors"
	"time"
)

// Publish validates, stamps and dispatches an event. The call returns once
// every matching subscription has admitted (or refused) a delivery record;
// it never waits for handlers, except for inline subscriptions whose errors
// it returns directly.
func (b *Bus) Publish(ctx context.Context, topic string, payload any, meta map[string]string) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	ev := &Event{
		ID:          newEventID(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: b.clock.Now(),
		Context:     mergeContext(b.busContext, meta),
	}
	return b.dispatch(ctx, ev)
}

// PublishDelayed holds the event in the scheduler and dispatches it when
// the delay elapses. The returned handle cancels the publish if it has not
// fired yet.
func (b *Bus) PublishDelayed(ctx context.Context, topic string, payload any, meta map[string]string, delay time.Duration) (*ScheduleHandle, error) {
	if b.closed.Load() {
		return nil, ErrBusClosed
	}
	if err := ValidateTopic(topic); err != nil {
		return nil, err
	}

	ev := &Event{
		ID:          newEventID(),
		Topic:       topic,
		Payload:     payload,
		PublishedAt: b.clock.Now(),
		Context:     mergeContext(b.busContext, meta),
	}
	dueAt := b.clock.Now().Add(delay)
	handle := b.sched.schedule(dueAt, func() {
		if err := b.dispatch(b.baseCtx, ev); err != nil {
			b.logger.Warn().Err(err).Msg("xdispatch: delayed publish failed")
		}
	})
	return handle, nil
}

// dispatch fans an already-built event out to the registry snapshot.
// Failure or blocking in one subscription's queue never affects another;
// per-subscription admission errors are joined into the returned error.
func (b *Bus) dispatch(ctx context.Context, ev *Event) error {
	if b.closed.Load() {
		return ErrBusClosed
	}

	b.metrics.published.Add(1)
	b.notifyAsync(BusEvent{Type: PublishStart, Topic: ev.Topic, EventID: ev.ID})

	// Append before any admission so crash recovery can replay
	// unacknowledged records. Dead-letter derivatives are not re-appended.
	if b.wal != nil && !ev.deadLetter && !ev.replayed {
		if err := b.wal.Append(ctx, ev); err != nil {
			b.metrics.errors.Add(1)
			b.notifyAsync(BusEvent{Type: PublishDone, Topic: ev.Topic, EventID: ev.ID, Err: err})
			return err
		}
	}

	var errs []error
	for _, sub := range b.registry.find(ev.Topic) {
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		if sub.oneShot && !sub.claimOneShot() {
			continue
		}
		if sub.inline {
			if err := b.deliverInline(ctx, sub, ev); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := b.admit(ctx, sub, ev); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	b.notifyAsync(BusEvent{Type: PublishDone, Topic: ev.Topic, EventID: ev.ID, Err: err})
	return err
}

// admit asks the subscription's queue to accept a new delivery record,
// honoring its overflow policy.
func (b *Bus) admit(ctx context.Context, sub *Subscription, ev *Event) error {
	rec := newDeliveryRecord(ev, sub)
	err := sub.queue.admit(ctx, rec, sub.admitTimeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errEventDropped):
		sub.stats.dropped.Add(1)
		b.metrics.dropped.Add(1)
		b.notifyAsync(BusEvent{Type: QueueDrop, Topic: ev.Topic, SubscriptionID: sub.id, EventID: ev.ID})
		return nil
	case errors.Is(err, errQueueClosed):
		// Lost the race with an unregister; destruction is visible to the
		// next dispatch cycle, so this is a silent skip.
		return nil
	default:
		var full *QueueFullError
		if errors.As(err, &full) {
			sub.stats.dropped.Add(1)
			b.metrics.rejected.Add(1)
			b.notifyAsync(BusEvent{Type: QueueReject, Topic: ev.Topic, SubscriptionID: sub.id, EventID: ev.ID, Err: err})
		}
		return err
	}
}

// worker drains one subscription queue. FIFO at concurrency 1; above that,
// relative order is not guaranteed.
func (b *Bus) worker(sub *Subscription) {
	defer sub.workers.Done()
	for {
		rec, ok := sub.queue.next()
		if !ok {
			return
		}
		b.deliver(sub, rec)
	}
}

// deliver drives one attempt of the delivery state machine.
func (b *Bus) deliver(sub *Subscription, rec *deliveryRecord) {
	info := rec.transition(InFlight, time.Time{}, nil)

	// A one-shot subscription fires for exactly one dispatch attempt: it
	// leaves the registry the moment its record turns in-flight and never
	// survives to a retry.
	if sub.oneShot && info.Attempt == 1 {
		b.registry.unregister(sub.id)
	}

	sub.stats.inFlight.Add(1)
	sub.stats.delivered.Add(1)
	b.metrics.delivered.Add(1)
	b.notifyAsync(BusEvent{
		Type:           DeliverStart,
		Topic:          rec.event.Topic,
		SubscriptionID: sub.id,
		EventID:        rec.event.ID,
		Attempt:        info.Attempt,
	})

	start := b.clock.Now()
	err := b.invoke(sub, rec.event, info.Attempt)
	duration := b.clock.Since(start)
	b.metrics.recordDeliveryTime(duration.Nanoseconds())
	sub.stats.inFlight.Add(-1)

	b.notifyAsync(BusEvent{
		Type:           DeliverDone,
		Topic:          rec.event.Topic,
		SubscriptionID: sub.id,
		EventID:        rec.event.ID,
		Attempt:        info.Attempt,
		Duration:       duration,
		Err:            err,
	})

	if err == nil {
		rec.transition(Acked, time.Time{}, nil)
		sub.stats.acked.Add(1)
		b.metrics.acked.Add(1)
		sub.queue.release()
		return
	}

	b.handleFailure(sub, rec, info.Attempt, err)
}

// invoke runs the handler with the bus context, injected dependencies and
// the per-attempt timeout. Exceeding the timeout counts as a failure
// identical to a returned error.
func (b *Bus) invoke(sub *Subscription, ev *Event, attempt int) error {
	hctx := injectLogger(b.baseCtx, b.logger)
	hctx = injectClock(hctx, b.clock)
	hctx = injectAttempt(hctx, attempt)
	return b.runAttempt(sub, hctx, ev)
}

// runAttempt executes the wrapped handler under the subscription's attempt
// timeout, if any.
func (b *Bus) runAttempt(sub *Subscription, hctx context.Context, ev *Event) error {
	if sub.attemptTimeout <= 0 {
		return sub.effective(hctx, ev)
	}

	tctx, cancel := context.WithTimeout(hctx, sub.attemptTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sub.effective(tctx, ev)
	}()

	select {
	case <-tctx.Done():
		return tctx.Err()
	case err := <-errCh:
		return err
	}
}

// handleFailure consults the retry coordinator: schedule a backoff re-entry
// while attempts remain, otherwise give up and dead-letter. Handler errors
// are absorbed here and only ever surfaced via hooks and the dead-letter
// channel.
func (b *Bus) handleFailure(sub *Subscription, rec *deliveryRecord, attempt int, cause error) {
	b.metrics.errors.Add(1)
	herr := &HandlerError{SubscriptionID: sub.id, Attempt: attempt, Err: cause}
	b.notifyAsync(BusEvent{
		Type:           ObservedError,
		Topic:          rec.event.Topic,
		SubscriptionID: sub.id,
		EventID:        rec.event.ID,
		Attempt:        attempt,
		Err:            herr,
	})

	info := rec.snapshot()
	info.Err = herr
	runHooks(info, sub.onError, b.onError)

	// Dead-letter deliveries are best-effort, fire-and-forget: never
	// retried, never re-routed.
	if rec.event.deadLetter {
		rec.transition(DeadLettered, time.Time{}, herr)
		sub.queue.release()
		b.logger.Warn().Err(herr).Msg("xdispatch: dead-letter delivery failed")
		return
	}

	// A one-shot subscription left the registry at first InFlight and its
	// drained queue has no workers; a closed subscription is in the same
	// position. Scheduling a retry would strand the record in a non-terminal
	// state, so both count as exhausted.
	policy := sub.retryPolicy()
	if attempt < policy.maxAttempts() && !sub.oneShot && !sub.closed.Load() {
		delay := policy.delay(attempt)
		nextAt := b.clock.Now().Add(delay)
		info = rec.transition(RetryScheduled, nextAt, herr)
		sub.stats.retried.Add(1)
		b.metrics.retried.Add(1)
		b.notifyAsync(BusEvent{
			Type:           RetryWait,
			Topic:          rec.event.Topic,
			SubscriptionID: sub.id,
			EventID:        rec.event.ID,
			Attempt:        attempt,
			Err:            herr,
		})
		runHooks(info, sub.onRetry, b.onRetry)
		b.sched.schedule(nextAt, func() { sub.queue.readmit(rec) })
		return
	}

	info = rec.transition(DeadLettered, time.Time{}, herr)
	sub.stats.deadLettered.Add(1)
	b.metrics.deadLettered.Add(1)
	b.notifyAsync(BusEvent{
		Type:           GiveUp,
		Topic:          rec.event.Topic,
		SubscriptionID: sub.id,
		EventID:        rec.event.ID,
		Attempt:        attempt,
		Err:            herr,
	})
	runHooks(info, sub.onGiveUp, b.onGiveUp)
	sub.queue.release()
	b.routeDeadLetter(sub, rec, herr)
}

// deliverInline runs the handler on the publishing goroutine before Publish
// returns; failures propagate to the publisher instead of entering the
// retry pipeline.
func (b *Bus) deliverInline(ctx context.Context, sub *Subscription, ev *Event) error {
	sub.stats.delivered.Add(1)
	b.metrics.delivered.Add(1)

	hctx := injectLogger(ctx, b.logger)
	hctx = injectClock(hctx, b.clock)
	hctx = injectAttempt(hctx, 1)

	start := b.clock.Now()
	err := b.runAttempt(sub, hctx, ev)
	duration := b.clock.Since(start)
	b.metrics.recordDeliveryTime(duration.Nanoseconds())

	b.notifyAsync(BusEvent{
		Type:           DeliverDone,
		Topic:          ev.Topic,
		SubscriptionID: sub.id,
		EventID:        ev.ID,
		Attempt:        1,
		Duration:       duration,
		Err:            err,
	})

	if sub.oneShot {
		b.registry.unregister(sub.id)
	}
	if err == nil {
		sub.stats.acked.Add(1)
		b.metrics.acked.Add(1)
		return nil
	}
	b.metrics.errors.Add(1)
	b.notifyAsync(BusEvent{
		Type:           ObservedError,
		Topic:          ev.Topic,
		SubscriptionID: sub.id,
		EventID:        ev.ID,
		Attempt:        1,
		Err:            err,
	})
	return err
}

func runHooks(info DeliveryInfo, perSub, global []DeliveryHook) {
	for _, h := range perSub {
		h(info)
	}
	for _, h := range global {
		h(info)
	}
}
