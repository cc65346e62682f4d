package xdispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacade_UsesDefaultBus(t *testing.T) {
	bus, closeFn, err := New(nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	SetDefault(bus)

	var calls atomic.Int64
	_, err = Subscribe("facade.*", func(ctx context.Context, ev *Event) error {
		calls.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, Publish(context.Background(), "facade.test", nil, nil))
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	handle, err := PublishDelayed(context.Background(), "facade.test", nil, nil, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	tx := Begin(nil)
	require.NoError(t, tx.Publish("facade.test", nil, nil))
	require.NoError(t, tx.Commit(context.Background()))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	assert.Same(t, bus, Default())
}

func TestSetDefault_NilPanics(t *testing.T) {
	assert.Panics(t, func() { SetDefault(nil) })
}
