package xdispatch

import (
	"time"

	"github.com/google/uuid"
)

// Event is the unit traveling the bus. It is immutable once published: the
// attempt counter lives on the delivery record, never on the event.
type Event struct {
	// ID is a unique identifier assigned at publish time.
	ID string
	// Topic is the hierarchical key the event was published under.
	Topic string
	// Payload is opaque to the engine. Serialization is a collaborator
	// concern (see Serializer).
	Payload any
	// PublishedAt is the publish timestamp (from the injected clock).
	PublishedAt time.Time
	// Context is the immutable metadata merged at publish time.
	Context Metadata

	// deadLetter marks events derived by the dead-letter router. Their own
	// deliveries never re-enter the retry pipeline and skip the WAL.
	deadLetter bool
	// replayed marks events re-dispatched from the WAL so they are not
	// appended a second time.
	replayed bool
}

// Dead-letter context keys added by the router to derived events.
const (
	OriginTopicKey  = "xdispatch.origin-topic"
	AttemptsKey     = "xdispatch.attempts"
	FinalErrorKey   = "xdispatch.error"
	SubscriptionKey = "xdispatch.subscription"
)

// DeadLetter reports whether this event was derived by the dead-letter
// router from a permanently failed delivery.
func (e *Event) DeadLetter() bool { return e.deadLetter }

func newEventID() string { return uuid.NewString() }
