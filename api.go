package xdispatch

import (
	"context"
	"time"
)

// API represents the complete engine surface for extensibility.
type API interface {
	Publish(ctx context.Context, topic string, payload any, meta map[string]string) error
	PublishDelayed(ctx context.Context, topic string, payload any, meta map[string]string, delay time.Duration) (*ScheduleHandle, error)
	Subscribe(pattern string, h Handler, opts ...SubscribeOption) (*Subscription, error)
	Unsubscribe(id string) bool
	Begin(txContext map[string]string) *Transaction
	RequeueDeadLetter(ctx context.Context, ev *Event) error
	ReplayWAL(ctx context.Context, since time.Time) error
	Snapshot() []SubscriptionInfo
	GetMetrics() Metrics
	Health(ctx context.Context) HealthStatus
	AddObserver(obs Observer)
	RemoveObserver(obs Observer)
	Close(ctx context.Context) error
}

// HealthChecker provides health status for production monitoring.
type HealthChecker interface {
	Health(ctx context.Context) HealthStatus
}

var (
	_ API           = (*Bus)(nil)
	_ HealthChecker = (*Bus)(nil)
)
