package xdispatch

import (
	"context"
	"errors"
	"sync"
)

// TxState is the transaction lifecycle: Open → {Committed, RolledBack}.
type TxState uint8

const (
	Open TxState = iota
	Committed
	RolledBack
)

func (s TxState) String() string {
	switch s {
	case Open:
		return "open"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Transaction buffers publishes and releases them atomically into dispatch
// on Commit. "Atomic" means atomic admission into the pipeline, not atomic
// end-to-end delivery: Commit does not wait for acknowledgements.
type Transaction struct {
	bus       *Bus
	txContext map[string]string

	mu     sync.Mutex
	state  TxState
	buffer []txPublish
}

type txPublish struct {
	topic   string
	payload any
	meta    map[string]string
}

// State returns the current transaction state.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Publish buffers an event without dispatching. Order is preserved on
// commit.
func (t *Transaction) Publish(topic string, payload any, meta map[string]string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return ErrTransactionClosed
	}
	t.buffer = append(t.buffer, txPublish{topic: topic, payload: payload, meta: copyStringMap(meta)})
	return nil
}

// Commit validates every buffered topic first; one malformed topic rejects
// the whole transaction and nothing is dispatched. On success it hands the
// buffer to the dispatcher in publish order. Event ids and
// timestamps are assigned here; each event's context merges bus defaults,
// the transaction context and the publish-call metadata, caller values
// winning.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return ErrTransactionClosed
	}
	if t.bus.closed.Load() {
		return ErrBusClosed
	}

	for _, p := range t.buffer {
		if err := ValidateTopic(p.topic); err != nil {
			t.state = RolledBack
			t.bus.notifyAsync(BusEvent{Type: TxRollback, Topic: p.topic, Err: err})
			return err
		}
	}

	t.state = Committed
	var errs []error
	for _, p := range t.buffer {
		ev := &Event{
			ID:          newEventID(),
			Topic:       p.topic,
			Payload:     p.payload,
			PublishedAt: t.bus.clock.Now(),
			Context:     mergeContext(t.bus.busContext, t.txContext, p.meta),
		}
		if err := t.bus.dispatch(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	t.buffer = nil

	err := errors.Join(errs...)
	t.bus.notifyAsync(BusEvent{Type: TxCommit, Err: err})
	return err
}

// Rollback discards the buffer.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Open {
		return ErrTransactionClosed
	}
	t.state = RolledBack
	t.buffer = nil
	t.bus.notifyAsync(BusEvent{Type: TxRollback})
	return nil
}
