package xdispatch

import (
	"context"
	"time"
)

// WAL is the persistence collaborator. When configured, the engine appends
// every event before admitting it to any queue so crash recovery can replay
// unacknowledged records. Durable storage itself lives outside the core
// (see adapter/badgerwal).
type WAL interface {
	Append(ctx context.Context, ev *Event) error
	Replay(ctx context.Context, since time.Time, fn func(ev *Event) error) error
	Close() error
}

// ReplayWAL re-dispatches every event the WAL recorded at or after since.
// Replayed events keep their original ids and timestamps; deliveries are
// at-least-once, so handlers observing a replay may see duplicates.
func (b *Bus) ReplayWAL(ctx context.Context, since time.Time) error {
	if b.closed.Load() {
		return ErrBusClosed
	}
	if b.wal == nil {
		return nil
	}
	return b.wal.Replay(ctx, since, func(ev *Event) error {
		ev.replayed = true
		return b.dispatch(ctx, ev)
	})
}
