package promobserver

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trickstertwo/xdispatch"
)

func TestObserver_CountsEventsByType(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(WithRegisterer(reg), WithNamespace("test"))

	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.PublishStart})
	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.PublishStart})
	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.DeliverDone, Duration: 25 * time.Millisecond})
	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.DeadLetter})

	assert.Equal(t, 2.0, testutil.ToFloat64(obs.events.WithLabelValues(string(xdispatch.PublishStart))))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.events.WithLabelValues(string(xdispatch.DeliverDone))))
	assert.Equal(t, 1.0, testutil.ToFloat64(obs.events.WithLabelValues(string(xdispatch.DeadLetter))))
}

func TestObserver_ObservesDeliveryDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(WithRegisterer(reg), WithNamespace("test"))

	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.DeliverDone, Duration: 10 * time.Millisecond})
	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.DeliverDone, Duration: 20 * time.Millisecond})
	// Zero-duration and non-delivery events are not observed.
	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.DeliverDone})
	obs.OnBusEvent(xdispatch.BusEvent{Type: xdispatch.RetryWait, Duration: time.Second})

	count := testutil.CollectAndCount(obs.deliveryTime, "test_delivery_duration_seconds")
	assert.Equal(t, 1, count) // one histogram series

	// Two samples were recorded.
	m, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range m {
		if mf.GetName() == "test_delivery_duration_seconds" {
			require.Len(t, mf.GetMetric(), 1)
			assert.Equal(t, uint64(2), mf.GetMetric()[0].GetHistogram().GetSampleCount())
		}
	}
}

func TestObserver_BusIntegration(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs := New(WithRegisterer(reg))

	bus, closeFn, err := xdispatch.New(func(b *xdispatch.BusBuilder) {
		b.WithObserver(obs)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })

	done := make(chan struct{})
	_, err = bus.Subscribe("orders.*", func(ctx context.Context, ev *xdispatch.Event) error {
		close(done)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "orders.created", nil, nil))
	<-done

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(obs.events.WithLabelValues(string(xdispatch.DeliverDone))) >= 1
	}, 5*time.Second, 5*time.Millisecond)
}
