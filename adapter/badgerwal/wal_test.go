package badgerwal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xdispatch"
)

func openTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func testEvent(id, topic string, at time.Time) *xdispatch.Event {
	return &xdispatch.Event{
		ID:          id,
		Topic:       topic,
		Payload:     map[string]string{"id": id},
		PublishedAt: at,
		Context:     xdispatch.NewMetadata(map[string]string{"tenant": "acme"}),
	}
}

func TestWAL_AppendAndReplayInOrder(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	// Append out of timestamp order; replay must come back sorted.
	require.NoError(t, w.Append(ctx, testEvent("e2", "orders.paid", base.Add(2*time.Second))))
	require.NoError(t, w.Append(ctx, testEvent("e1", "orders.created", base.Add(time.Second))))
	require.NoError(t, w.Append(ctx, testEvent("e3", "orders.shipped", base.Add(3*time.Second))))

	var got []string
	err := w.Replay(ctx, time.Time{}, func(ev *xdispatch.Event) error {
		got = append(got, ev.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2", "e3"}, got)
}

func TestWAL_ReplaySince(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, w.Append(ctx, testEvent("old", "orders.created", base)))
	require.NoError(t, w.Append(ctx, testEvent("new", "orders.created", base.Add(time.Minute))))

	var got []string
	err := w.Replay(ctx, base.Add(30*time.Second), func(ev *xdispatch.Event) error {
		got = append(got, ev.ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"new"}, got)
}

func TestWAL_ReplayPreservesEvent(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, w.Append(ctx, testEvent("e1", "orders.created", at)))

	err := w.Replay(ctx, time.Time{}, func(ev *xdispatch.Event) error {
		assert.Equal(t, "e1", ev.ID)
		assert.Equal(t, "orders.created", ev.Topic)
		assert.True(t, ev.PublishedAt.Equal(at))

		tenant, ok := ev.Context.Get("tenant")
		assert.True(t, ok)
		assert.Equal(t, "acme", tenant)

		payload, perr := xdispatch.PayloadAs[map[string]string](ev)
		require.NoError(t, perr)
		assert.Equal(t, "e1", payload["id"])
		return nil
	})
	require.NoError(t, err)
}

func TestWAL_ReplayStopsOnError(t *testing.T) {
	w := openTestWAL(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, w.Append(ctx, testEvent("e1", "orders.created", base)))
	require.NoError(t, w.Append(ctx, testEvent("e2", "orders.created", base.Add(time.Second))))

	calls := 0
	err := w.Replay(ctx, time.Time{}, func(ev *xdispatch.Event) error {
		calls++
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 1, calls)
}

// The engine integration: publishes land in the log, replay re-dispatches.
func TestWAL_BusIntegration(t *testing.T) {
	w := openTestWAL(t)
	bus, closeFn, err := xdispatch.New(func(b *xdispatch.BusBuilder) { b.WithWAL(w) })
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	require.NoError(t, bus.Publish(context.Background(), "orders.created", map[string]string{"order": "A-1"}, nil))

	ids := make(chan string, 1)
	_, err = bus.Subscribe("orders.*", func(ctx context.Context, ev *xdispatch.Event) error {
		ids <- ev.ID
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.ReplayWAL(context.Background(), time.Time{}))

	select {
	case id := <-ids:
		assert.NotEmpty(t, id)
	case <-time.After(5 * time.Second):
		t.Fatal("replayed event never delivered")
	}
}
