package xdispatch

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeliveryState_Terminal(t *testing.T) {
	assert.False(t, Pending.Terminal())
	assert.False(t, InFlight.Terminal())
	assert.False(t, RetryScheduled.Terminal())
	assert.True(t, Acked.Terminal())
	assert.True(t, DeadLettered.Terminal())
}

func TestDeliveryState_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "in_flight", InFlight.String())
	assert.Equal(t, "acked", Acked.String())
	assert.Equal(t, "retry_scheduled", RetryScheduled.String())
	assert.Equal(t, "dead_lettered", DeadLettered.String())
	assert.Equal(t, "unknown", DeliveryState(99).String())
}

// The attempt counter bumps only on entry to InFlight and never decreases.
func TestDeliveryRecord_AttemptCounting(t *testing.T) {
	rec := newDeliveryRecord(&Event{ID: "e1", Topic: "orders.created"}, &Subscription{id: "s1"})

	info := rec.snapshot()
	assert.Equal(t, Pending, info.State)
	assert.Equal(t, 0, info.Attempt)

	info = rec.transition(InFlight, time.Time{}, nil)
	assert.Equal(t, 1, info.Attempt)

	cause := errors.New("boom")
	nextAt := time.Now().Add(time.Second)
	info = rec.transition(RetryScheduled, nextAt, cause)
	assert.Equal(t, 1, info.Attempt)
	assert.Equal(t, nextAt, info.NextRetryAt)
	assert.Equal(t, cause, info.Err)

	info = rec.transition(InFlight, time.Time{}, nil)
	assert.Equal(t, 2, info.Attempt)
	assert.Equal(t, cause, info.Err) // last error sticks until overwritten

	info = rec.transition(Acked, time.Time{}, nil)
	assert.Equal(t, Acked, info.State)
	assert.Equal(t, 2, info.Attempt)
	assert.Equal(t, "e1", info.EventID)
	assert.Equal(t, "orders.created", info.Topic)
	assert.Equal(t, "s1", info.SubscriptionID)
}
