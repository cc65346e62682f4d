package xdispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrBusClosed is returned by publish/subscribe operations after Close.
	ErrBusClosed = errors.New("xdispatch: bus is closed")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("xdispatch: handler must not be nil")

	// ErrTransactionClosed is returned for operations on a committed or
	// rolled-back transaction.
	ErrTransactionClosed = errors.New("xdispatch: transaction is not open")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("xdispatch: handler panicked")

	// ErrObserverPoolShutdownTimeout indicates the observer pool did not
	// drain within the close timeout.
	ErrObserverPoolShutdownTimeout = errors.New("xdispatch: observer pool shutdown timed out")
)

// ValidationError reports a malformed topic or pattern. It is always raised
// synchronously at publish, subscribe or commit time and is never retried.
type ValidationError struct {
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("xdispatch: invalid %q: %s", e.Value, e.Reason)
}

// DuplicateIDError reports a subscription id collision at register time.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("xdispatch: subscription id %q already registered", e.ID)
}

// QueueFullError is raised synchronously to the publisher when a
// reject-policy subscription queue is at capacity. Other subscriptions of
// the same publish are unaffected.
type QueueFullError struct {
	SubscriptionID string
	Capacity       int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("xdispatch: queue full for subscription %q (capacity %d)", e.SubscriptionID, e.Capacity)
}

// HandlerError wraps any error surfaced by a handler, including a recovered
// panic or an exceeded attempt timeout. It enters the retry pipeline and is
// never surfaced to the publisher (inline subscriptions excepted).
type HandlerError struct {
	SubscriptionID string
	Attempt        int
	Err            error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("xdispatch: handler for %q failed on attempt %d: %v", e.SubscriptionID, e.Attempt, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }
