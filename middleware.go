package xdispatch

import (
	"context"
	"fmt"
)

// Middleware composes processing concerns around a Handler. Bus-level
// middlewares wrap every subscription's handler at registration time.
// Retry and attempt timeouts are engine concerns, not middleware: errors
// returned here feed the delivery state machine.
type Middleware func(next Handler) Handler

// RecoveryMiddleware converts handler panics into errors so a single bad
// payload cannot take a worker down. The engine installs it innermost on
// every subscription.
func RecoveryMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, ev *Event) (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
				}
			}()
			return next(ctx, ev)
		}
	}
}

// Chain composes middlewares around a handler in order: the first
// middleware wraps outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	if len(mws) == 0 {
		return h
	}
	wrapped := h
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] == nil {
			continue
		}
		wrapped = mws[i](wrapped)
	}
	return wrapped
}
