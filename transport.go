package xdispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Transport moves encoded events between processes. Clustering, replication
// and node topology live entirely behind this interface: the engine treats
// transport-delivered events identically to local publishes.
type Transport interface {
	// Send transmits encoded bytes to a peer; an empty nodeID broadcasts.
	Send(ctx context.Context, nodeID string, data []byte) error
	// OnReceive binds the handler invoked for every inbound frame.
	OnReceive(fn func(data []byte))
	// Close releases resources.
	Close(ctx context.Context) error
}

// TransportFactory constructs transports from a config blob.
type TransportFactory func(cfg map[string]any) (Transport, error)

var (
	transportRegistryMu sync.RWMutex
	transportRegistry   = map[string]TransportFactory{}
)

// RegisterTransport registers a transport adapter by name.
func RegisterTransport(name string, factory TransportFactory) error {
	if name == "" {
		return errors.New("transport name must not be empty")
	}
	if factory == nil {
		return errors.New("transport factory must not be nil")
	}
	transportRegistryMu.Lock()
	transportRegistry[name] = factory
	transportRegistryMu.Unlock()
	return nil
}

// NewTransport constructs a transport by name with config.
func NewTransport(name string, cfg map[string]any) (Transport, error) {
	transportRegistryMu.RLock()
	f, ok := transportRegistry[name]
	transportRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("transport %q not registered", name)
	}
	return f(cfg)
}

// RemoteKey marks events that arrived over a transport so forwarding
// subscriptions can break echo loops.
const RemoteKey = "xdispatch.remote"

// AttachTransport feeds inbound transport frames into the bus as ordinary
// local publishes. A nil serializer defaults to JSON.
func (b *Bus) AttachTransport(t Transport, s Serializer) {
	if s == nil {
		s = JSONSerializer{}
	}
	t.OnReceive(func(data []byte) {
		ev, err := s.Unmarshal(data)
		if err != nil {
			b.metrics.errors.Add(1)
			b.logger.Warn().Err(err).Msg("xdispatch: transport frame decode failed")
			return
		}
		ev.Context = ev.Context.With(map[string]string{RemoteKey: "1"})
		if err := b.dispatch(b.baseCtx, ev); err != nil {
			b.logger.Warn().Err(err).Msg("xdispatch: transport-delivered publish failed")
		}
	})
}

// Forward mirrors matching local publishes out through the transport.
// Remote-origin and dead-letter events are not echoed back out.
func (b *Bus) Forward(t Transport, s Serializer, pattern, nodeID string, opts ...SubscribeOption) (*Subscription, error) {
	if s == nil {
		s = JSONSerializer{}
	}
	// Composes with any caller-supplied filter instead of replacing it.
	opts = append(opts, func(s *Subscription) {
		prev := s.filter
		s.filter = func(ev *Event) bool {
			if ev.DeadLetter() {
				return false
			}
			if _, remote := ev.Context.Get(RemoteKey); remote {
				return false
			}
			return prev == nil || prev(ev)
		}
	})
	return b.Subscribe(pattern, func(ctx context.Context, ev *Event) error {
		data, err := s.Marshal(ev)
		if err != nil {
			return err
		}
		return t.Send(ctx, nodeID, data)
	}, opts...)
}
