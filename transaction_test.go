package xdispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransaction_CommitDispatchesInOrder(t *testing.T) {
	bus := newTestBus(t, nil)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})
	_, err := bus.Subscribe("orders.#", func(ctx context.Context, ev *Event) error {
		mu.Lock()
		got = append(got, ev.Topic)
		if len(got) == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	tx := bus.Begin(nil)
	require.Equal(t, Open, tx.State())
	require.NoError(t, tx.Publish("orders.created", 1, nil))
	require.NoError(t, tx.Publish("orders.paid", 2, nil))
	require.NoError(t, tx.Publish("orders.shipped", 3, nil))

	require.NoError(t, tx.Commit(context.Background()))
	assert.Equal(t, Committed, tx.State())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("not all transactional events delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"orders.created", "orders.paid", "orders.shipped"}, got)
}

// Buffered events are invisible until Commit.
func TestTransaction_NothingDispatchedBeforeCommit(t *testing.T) {
	bus := newTestBus(t, nil)

	events := make(chan *Event, 4)
	_, err := bus.Subscribe("orders.*", func(ctx context.Context, ev *Event) error {
		events <- ev
		return nil
	})
	require.NoError(t, err)

	tx := bus.Begin(nil)
	require.NoError(t, tx.Publish("orders.created", nil, nil))

	select {
	case <-events:
		t.Fatal("buffered publish escaped before commit")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, tx.Commit(context.Background()))
	select {
	case <-events:
	case <-time.After(2 * time.Second):
		t.Fatal("committed publish never delivered")
	}
}

// One malformed topic rejects the whole transaction: no event, not even a
// valid one buffered earlier, reaches any subscription.
func TestTransaction_CommitValidationIsAllOrNothing(t *testing.T) {
	bus := newTestBus(t, nil)

	events := make(chan *Event, 4)
	_, err := bus.Subscribe("#", func(ctx context.Context, ev *Event) error {
		events <- ev
		return nil
	})
	require.NoError(t, err)

	tx := bus.Begin(nil)
	require.NoError(t, tx.Publish("orders.created", nil, nil))
	require.NoError(t, tx.Publish("orders..broken", nil, nil))

	err = tx.Commit(context.Background())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, RolledBack, tx.State())

	select {
	case <-events:
		t.Fatal("rolled-back transaction dispatched an event")
	case <-time.After(100 * time.Millisecond):
	}

	// The transaction is closed for good.
	assert.ErrorIs(t, tx.Commit(context.Background()), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Publish("orders.created", nil, nil), ErrTransactionClosed)
}

func TestTransaction_Rollback(t *testing.T) {
	bus := newTestBus(t, nil)

	var calls int
	_, err := bus.Subscribe("orders.*", func(ctx context.Context, ev *Event) error {
		calls++
		return nil
	})
	require.NoError(t, err)

	tx := bus.Begin(nil)
	require.NoError(t, tx.Publish("orders.created", nil, nil))
	require.NoError(t, tx.Rollback())
	assert.Equal(t, RolledBack, tx.State())

	assert.ErrorIs(t, tx.Rollback(), ErrTransactionClosed)
	assert.ErrorIs(t, tx.Commit(context.Background()), ErrTransactionClosed)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, calls)
}

// Context precedence on commit: bus defaults < transaction context <
// per-publish metadata.
func TestTransaction_ContextMerge(t *testing.T) {
	bus := newTestBus(t, func(b *BusBuilder) {
		b.WithContext(map[string]string{"a": "bus", "b": "bus", "c": "bus"})
	})

	events := make(chan *Event, 1)
	_, err := bus.Subscribe("orders.*", func(ctx context.Context, ev *Event) error {
		events <- ev
		return nil
	})
	require.NoError(t, err)

	tx := bus.Begin(map[string]string{"b": "tx", "c": "tx"})
	require.NoError(t, tx.Publish("orders.created", nil, map[string]string{"c": "publish"}))
	require.NoError(t, tx.Commit(context.Background()))

	select {
	case ev := <-events:
		a, _ := ev.Context.Get("a")
		assert.Equal(t, "bus", a)
		b, _ := ev.Context.Get("b")
		assert.Equal(t, "tx", b)
		c, _ := ev.Context.Get("c")
		assert.Equal(t, "publish", c)
	case <-time.After(2 * time.Second):
		t.Fatal("event never delivered")
	}
}

func TestTransaction_CommitOnClosedBus(t *testing.T) {
	bus, closeFn, err := New(nil)
	require.NoError(t, err)

	tx := bus.Begin(nil)
	require.NoError(t, tx.Publish("orders.created", nil, nil))
	require.NoError(t, closeFn())

	assert.ErrorIs(t, tx.Commit(context.Background()), ErrBusClosed)
}

func TestTxState_String(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "committed", Committed.String())
	assert.Equal(t, "rolled_back", RolledBack.String())
	assert.Equal(t, "unknown", TxState(9).String())
}
