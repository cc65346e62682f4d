package xdispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, ev *Event) error {
				order = append(order, name)
				return next(ctx, ev)
			}
		}
	}

	h := Chain(func(ctx context.Context, ev *Event) error {
		order = append(order, "handler")
		return nil
	}, tag("outer"), tag("inner"))

	require.NoError(t, h(context.Background(), &Event{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := RecoveryMiddleware()(func(ctx context.Context, ev *Event) error {
		panic("kaboom")
	})

	err := h(context.Background(), &Event{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerPanic)
	assert.Contains(t, err.Error(), "kaboom")

	// Non-panicking handlers pass through untouched.
	h = RecoveryMiddleware()(func(ctx context.Context, ev *Event) error { return nil })
	assert.NoError(t, h(context.Background(), &Event{}))
}

// Bus middlewares observe the panic already converted to an error by the
// innermost recovery layer.
func TestBusMiddleware_SeesRecoveredError(t *testing.T) {
	var mu sync.Mutex
	var seen []error
	mw := func(next Handler) Handler {
		return func(ctx context.Context, ev *Event) error {
			err := next(ctx, ev)
			mu.Lock()
			seen = append(seen, err)
			mu.Unlock()
			return err
		}
	}

	bus := newTestBus(t, func(b *BusBuilder) { b.WithMiddleware(mw) })
	_, err := bus.Subscribe("orders.*", func(ctx context.Context, ev *Event) error {
		panic("kaboom")
	}, WithRetryPolicy(RetryPolicy{MaxAttempts: 1}))
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "orders.created", nil, nil))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, 5*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.ErrorIs(t, seen[0], ErrHandlerPanic)
}
