package xdispatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Serializer is the Strategy for encoding events crossing a process
// boundary (transport bridges, write-ahead logs). The engine itself never
// assumes a wire format; payloads stay opaque in memory.
type Serializer interface {
	Marshal(ev *Event) ([]byte, error)
	Unmarshal(data []byte) (*Event, error)
	Name() string
}

// eventEnvelope is the stable JSON shape of an event on the wire.
type eventEnvelope struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	PublishedAt time.Time       `json:"published_at"`
	Context     Metadata        `json:"context"`
	DeadLetter  bool            `json:"dead_letter,omitempty"`
}

// JSONSerializer is the default implementation.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(ev *Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(eventEnvelope{
		ID:          ev.ID,
		Topic:       ev.Topic,
		Payload:     payload,
		PublishedAt: ev.PublishedAt,
		Context:     ev.Context,
		DeadLetter:  ev.deadLetter,
	})
}

func (JSONSerializer) Unmarshal(data []byte) (*Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &Event{
		ID:          env.ID,
		Topic:       env.Topic,
		Payload:     env.Payload,
		PublishedAt: env.PublishedAt,
		Context:     env.Context,
		deadLetter:  env.DeadLetter,
	}, nil
}

func (JSONSerializer) Name() string { return "json" }

// SerializerFactory constructs serializers via Factory pattern.
type SerializerFactory func() Serializer

var (
	serializerRegistryMu sync.RWMutex
	serializerRegistry   = map[string]SerializerFactory{
		"json": func() Serializer { return JSONSerializer{} },
	}
)

// RegisterSerializer registers a serializer factory by name.
func RegisterSerializer(name string, factory SerializerFactory) error {
	if name == "" {
		return errors.New("serializer name must not be empty")
	}
	if factory == nil {
		return errors.New("serializer factory must not be nil")
	}
	serializerRegistryMu.Lock()
	serializerRegistry[name] = factory
	serializerRegistryMu.Unlock()
	return nil
}

// NewSerializer constructs a serializer by name or returns an error.
func NewSerializer(name string) (Serializer, error) {
	serializerRegistryMu.RLock()
	f, ok := serializerRegistry[name]
	serializerRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("serializer %q not registered", name)
	}
	return f(), nil
}

// PayloadAs extracts a typed payload from an event. Locally published
// events usually carry the value itself; events that crossed a Serializer
// carry raw JSON and are decoded here.
func PayloadAs[T any](ev *Event) (T, error) {
	if v, ok := ev.Payload.(T); ok {
		return v, nil
	}
	var v T
	switch raw := ev.Payload.(type) {
	case json.RawMessage:
		err := json.Unmarshal(raw, &v)
		return v, err
	case []byte:
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		return v, fmt.Errorf("xdispatch: payload is %T, not %T", ev.Payload, v)
	}
}
