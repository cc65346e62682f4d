package xdispatch

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// Metadata is the immutable key-value context attached to every event at
// publish time. Handlers get a read-only view; propagating additional
// context to a nested publish means supplying it explicitly on that call.
type Metadata struct {
	kv map[string]string
}

// NewMetadata copies m into an immutable Metadata value.
func NewMetadata(m map[string]string) Metadata {
	if len(m) == 0 {
		return Metadata{}
	}
	kv := make(map[string]string, len(m))
	for k, v := range m {
		kv[k] = v
	}
	return Metadata{kv: kv}
}

// Get returns the value for key and whether it is present.
func (m Metadata) Get(key string) (string, bool) {
	v, ok := m.kv[key]
	return v, ok
}

// Len returns the number of keys.
func (m Metadata) Len() int { return len(m.kv) }

// Keys returns all keys in sorted order.
func (m Metadata) Keys() []string {
	keys := make([]string, 0, len(m.kv))
	for k := range m.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Map returns a defensive copy of the underlying pairs.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, len(m.kv))
	for k, v := range m.kv {
		out[k] = v
	}
	return out
}

// With returns a new Metadata with extra merged in; extra wins on collision.
func (m Metadata) With(extra map[string]string) Metadata {
	if len(extra) == 0 {
		return m
	}
	kv := make(map[string]string, len(m.kv)+len(extra))
	for k, v := range m.kv {
		kv[k] = v
	}
	for k, v := range extra {
		kv[k] = v
	}
	return Metadata{kv: kv}
}

func (m Metadata) MarshalJSON() ([]byte, error) {
	if m.kv == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.kv)
}

func (m *Metadata) UnmarshalJSON(data []byte) error {
	var kv map[string]string
	if err := json.Unmarshal(data, &kv); err != nil {
		return err
	}
	m.kv = kv
	return nil
}

// mergeContext layers bus defaults, an open transaction's context and the
// caller's per-publish values; later layers win on key collision.
func mergeContext(layers ...map[string]string) Metadata {
	n := 0
	for _, l := range layers {
		n += len(l)
	}
	if n == 0 {
		return Metadata{}
	}
	kv := make(map[string]string, n)
	for _, l := range layers {
		for k, v := range l {
			kv[k] = v
		}
	}
	return Metadata{kv: kv}
}

// ctxKey is the base for all context keys in xdispatch (prevents collisions).
type ctxKey string

const (
	loggerCtxKey  ctxKey = "xdispatch:logger"
	clockCtxKey   ctxKey = "xdispatch:clock"
	attemptCtxKey ctxKey = "xdispatch:attempt"
)

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

// LoggerFromContext retrieves the bus logger injected into a handler context.
func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

// ClockFromContext retrieves the bus clock injected into a handler context.
func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptCtxKey, attempt)
}

// AttemptFromContext returns the 1-based delivery attempt number for the
// current handler invocation. It returns 1 outside a dispatch.
func AttemptFromContext(ctx context.Context) int {
	if v := ctx.Value(attemptCtxKey); v != nil {
		if n, ok := v.(int); ok && n > 0 {
			return n
		}
	}
	return 1
}
