package xdispatch

import (
	"context"
	"fmt"
	"sync"
	"time"
)

var (
	defaultBus   *Bus
	defaultBusMu sync.Mutex
)

// Default returns the process-wide singleton Bus, initializing it with
// builder defaults on first use.
func Default() *Bus {
	defaultBusMu.Lock()
	defer defaultBusMu.Unlock()

	if defaultBus != nil {
		return defaultBus
	}

	bus, err := NewBusBuilder().Build()
	if err != nil {
		panic(fmt.Sprintf("xdispatch: failed to initialize default bus: %v", err))
	}
	defaultBus = bus
	return defaultBus
}

// SetDefault replaces the process-wide default Bus.
func SetDefault(b *Bus) {
	if b == nil {
		panic("xdispatch: SetDefault called with nil Bus")
	}
	defaultBusMu.Lock()
	defaultBus = b
	defaultBusMu.Unlock()
}

// Publish is the Facade using the default bus.
func Publish(ctx context.Context, topic string, payload any, meta map[string]string) error {
	return Default().Publish(ctx, topic, payload, meta)
}

// PublishDelayed is the Facade using the default bus.
func PublishDelayed(ctx context.Context, topic string, payload any, meta map[string]string, delay time.Duration) (*ScheduleHandle, error) {
	return Default().PublishDelayed(ctx, topic, payload, meta, delay)
}

// Subscribe is the Facade using the default bus.
func Subscribe(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error) {
	return Default().Subscribe(pattern, h, opts...)
}

// Begin is the Facade using the default bus.
func Begin(txContext map[string]string) *Transaction {
	return Default().Begin(txContext)
}
