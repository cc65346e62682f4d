package xdispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(eventID string) *deliveryRecord {
	return newDeliveryRecord(&Event{ID: eventID, Topic: "t"}, &Subscription{id: "sub-1"})
}

func TestQueue_Reject_AtCapacity(t *testing.T) {
	q := newDeliveryQueue(2, Reject)
	ctx := context.Background()

	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))
	require.NoError(t, q.admit(ctx, testRecord("e2"), 0))

	err := q.admit(ctx, testRecord("e3"), 0)
	var full *QueueFullError
	require.ErrorAs(t, err, &full)
	assert.Equal(t, "sub-1", full.SubscriptionID)
	assert.Equal(t, 2, full.Capacity)

	assert.Equal(t, 2, q.depth())
	assert.Equal(t, 2, q.occupancy())
}

func TestQueue_DropOldest_EvictsPendingHead(t *testing.T) {
	q := newDeliveryQueue(2, DropOldest)
	var evicted []string
	q.onEvict = func(rec *deliveryRecord) { evicted = append(evicted, rec.event.ID) }
	ctx := context.Background()

	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))
	require.NoError(t, q.admit(ctx, testRecord("e2"), 0))
	require.NoError(t, q.admit(ctx, testRecord("e3"), 0))

	assert.Equal(t, []string{"e1"}, evicted)
	assert.Equal(t, 2, q.occupancy())

	rec, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "e2", rec.event.ID)
}

// With every occupant in flight there is nothing evictable; the incoming
// record is the one silently discarded.
func TestQueue_DropOldest_NothingPending(t *testing.T) {
	q := newDeliveryQueue(1, DropOldest)
	ctx := context.Background()

	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))
	_, ok := q.next() // e1 now in flight, slot still occupied
	require.True(t, ok)
	require.Equal(t, 0, q.depth())
	require.Equal(t, 1, q.occupancy())

	err := q.admit(ctx, testRecord("e2"), 0)
	assert.ErrorIs(t, err, errEventDropped)
	assert.Equal(t, 1, q.occupancy())
}

func TestQueue_Block_WaitsForRelease(t *testing.T) {
	q := newDeliveryQueue(1, Block)
	ctx := context.Background()

	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))
	_, ok := q.next()
	require.True(t, ok)

	admitted := make(chan error, 1)
	go func() { admitted <- q.admit(ctx, testRecord("e2"), 0) }()

	select {
	case <-admitted:
		t.Fatal("admit returned while the queue was full")
	case <-time.After(50 * time.Millisecond):
	}

	q.release() // e1 reached a terminal state
	select {
	case err := <-admitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("admit did not unblock after release")
	}
	assert.Equal(t, 1, q.occupancy())
}

func TestQueue_Block_AdmitTimeout(t *testing.T) {
	q := newDeliveryQueue(1, Block)
	ctx := context.Background()
	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))

	start := time.Now()
	err := q.admit(ctx, testRecord("e2"), 30*time.Millisecond)
	var full *QueueFullError
	require.ErrorAs(t, err, &full)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestQueue_Block_ContextCancel(t *testing.T) {
	q := newDeliveryQueue(1, Block)
	require.NoError(t, q.admit(context.Background(), testRecord("e1"), 0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := q.admit(ctx, testRecord("e2"), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// Retry re-entry goes to the head of the queue and keeps its slot.
func TestQueue_Readmit_Head(t *testing.T) {
	q := newDeliveryQueue(4, Block)
	ctx := context.Background()

	retrying := testRecord("retrying")
	require.NoError(t, q.admit(ctx, retrying, 0))
	_, ok := q.next()
	require.True(t, ok)
	require.NoError(t, q.admit(ctx, testRecord("fresh"), 0))

	before := q.occupancy()
	q.readmit(retrying)
	assert.Equal(t, before, q.occupancy())

	rec, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "retrying", rec.event.ID)
}

func TestQueue_Close_Drain(t *testing.T) {
	q := newDeliveryQueue(4, Block)
	ctx := context.Background()
	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))
	require.NoError(t, q.admit(ctx, testRecord("e2"), 0))

	q.close(true)

	assert.ErrorIs(t, q.admit(ctx, testRecord("e3"), 0), errQueueClosed)

	// Backlog is still served in drain mode.
	rec, ok := q.next()
	require.True(t, ok)
	assert.Equal(t, "e1", rec.event.ID)
	rec, ok = q.next()
	require.True(t, ok)
	assert.Equal(t, "e2", rec.event.ID)
	_, ok = q.next()
	assert.False(t, ok)
}

func TestQueue_Close_Discard(t *testing.T) {
	q := newDeliveryQueue(4, Block)
	ctx := context.Background()
	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))

	q.close(false)

	_, ok := q.next()
	assert.False(t, ok)
	assert.Equal(t, 0, q.occupancy())
}

func TestQueue_SetCapacity(t *testing.T) {
	q := newDeliveryQueue(1, Reject)
	ctx := context.Background()
	require.NoError(t, q.admit(ctx, testRecord("e1"), 0))
	require.Error(t, q.admit(ctx, testRecord("e2"), 0))

	q.setCapacity(2)
	assert.NoError(t, q.admit(ctx, testRecord("e2"), 0))

	// Shrinking never evicts already-admitted records.
	q.setCapacity(1)
	assert.Equal(t, 2, q.occupancy())
}
