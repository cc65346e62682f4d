package xdispatch

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// BackoffFunc computes the base wait before retry attempt n (1-based, the
// attempt that just failed).
type BackoffFunc func(attempt int) time.Duration

// FixedBackoff waits the same delay between every attempt.
func FixedBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration { return d }
}

// ExponentialBackoff doubles the delay per attempt, starting at base and
// never exceeding cap (0 means uncapped).
func ExponentialBackoff(base, cap time.Duration) BackoffFunc {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if cap > 0 && d >= cap {
				return cap
			}
		}
		if cap > 0 && d > cap {
			return cap
		}
		return d
	}
}

// FullJitterBackoff draws uniformly from [0, exponential(attempt)) to avoid
// synchronized retry storms.
func FullJitterBackoff(base, cap time.Duration) BackoffFunc {
	exp := ExponentialBackoff(base, cap)
	return func(attempt int) time.Duration {
		d := exp(attempt)
		if d <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(d)))
	}
}

// BackoffFactory constructs backoff strategies from a config blob.
type BackoffFactory func(cfg map[string]any) (BackoffFunc, error)

var (
	backoffRegistryMu sync.RWMutex
	backoffRegistry   = map[string]BackoffFactory{
		"fixed": func(cfg map[string]any) (BackoffFunc, error) {
			return FixedBackoff(durationFromCfg(cfg, "delay", time.Second)), nil
		},
		"exponential": func(cfg map[string]any) (BackoffFunc, error) {
			return ExponentialBackoff(
				durationFromCfg(cfg, "base", 100*time.Millisecond),
				durationFromCfg(cfg, "cap", 30*time.Second),
			), nil
		},
		"fulljitter": func(cfg map[string]any) (BackoffFunc, error) {
			return FullJitterBackoff(
				durationFromCfg(cfg, "base", 100*time.Millisecond),
				durationFromCfg(cfg, "cap", 30*time.Second),
			), nil
		},
	}
)

// RegisterBackoff registers a named backoff strategy.
func RegisterBackoff(name string, factory BackoffFactory) error {
	if name == "" {
		return errors.New("backoff name must not be empty")
	}
	if factory == nil {
		return errors.New("backoff factory must not be nil")
	}
	backoffRegistryMu.Lock()
	backoffRegistry[name] = factory
	backoffRegistryMu.Unlock()
	return nil
}

// NewBackoff constructs a backoff strategy by name with config.
func NewBackoff(name string, cfg map[string]any) (BackoffFunc, error) {
	backoffRegistryMu.RLock()
	f, ok := backoffRegistry[name]
	backoffRegistryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("backoff %q not registered", name)
	}
	return f(cfg)
}

func durationFromCfg(cfg map[string]any, key string, def time.Duration) time.Duration {
	switch v := cfg[key].(type) {
	case time.Duration:
		return v
	case string:
		if p, err := time.ParseDuration(v); err == nil {
			return p
		}
	case int:
		return time.Duration(v)
	case int64:
		return time.Duration(v)
	case float64:
		return time.Duration(v)
	}
	return def
}

// RetryPolicy bounds delivery attempts for a subscription. A zero policy is
// replaced by the bus default at subscribe time.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// Backoff computes the base wait before the next attempt.
	Backoff BackoffFunc
	// JitterFraction perturbs the computed backoff by up to ±fraction.
	JitterFraction float64
}

// DefaultRetryPolicy is applied to subscriptions without an override.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		Backoff:        ExponentialBackoff(100*time.Millisecond, 10*time.Second),
		JitterFraction: 0.2,
	}
}

func (p RetryPolicy) maxAttempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the jittered wait after a failed attempt (1-based).
func (p RetryPolicy) delay(attempt int) time.Duration {
	if p.Backoff == nil {
		return 0
	}
	d := p.Backoff(attempt)
	if d <= 0 {
		return 0
	}
	if p.JitterFraction > 0 {
		f := 1 + p.JitterFraction*(2*rand.Float64()-1)
		d = time.Duration(float64(d) * f)
		if d < 0 {
			d = 0
		}
	}
	return d
}
