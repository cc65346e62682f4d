package badgerwal

import (
	"context"
	"encoding/binary"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/trickstertwo/xdispatch"
)

// Config controls the Badger store.
type Config struct {
	// Dir is the database directory; ignored when InMemory is set.
	Dir string
	// InMemory keeps the log in RAM (tests, ephemeral buses).
	InMemory bool
	// SyncWrites fsyncs every append. Slower, survives power loss.
	SyncWrites bool
}

// WAL implements xdispatch.WAL on BadgerDB.
type WAL struct {
	db  *badger.DB
	ser xdispatch.Serializer
}

var _ xdispatch.WAL = (*WAL)(nil)

// Option configures the WAL.
type Option func(*WAL)

// WithSerializer overrides the default JSON event serializer.
func WithSerializer(s xdispatch.Serializer) Option {
	return func(w *WAL) {
		if s != nil {
			w.ser = s
		}
	}
}

// Open opens (or creates) the log store.
func Open(cfg Config, opts ...Option) (*WAL, error) {
	bopts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(nil)
	if cfg.InMemory {
		bopts = bopts.WithDir("").WithValueDir("")
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}

	w := &WAL{db: db, ser: xdispatch.JSONSerializer{}}
	for _, o := range opts {
		if o != nil {
			o(w)
		}
	}
	return w, nil
}

// Append records one event. Called by the engine before queue admission.
func (w *WAL) Append(ctx context.Context, ev *xdispatch.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := w.ser.Marshal(ev)
	if err != nil {
		return err
	}
	key := walKey(ev.PublishedAt, ev.ID)
	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Replay streams every recorded event published at or after since, in
// timestamp order, to fn. A non-nil error from fn stops the scan.
func (w *WAL) Replay(ctx context.Context, since time.Time, fn func(ev *xdispatch.Event) error) error {
	start := walKey(since, "")
	return w.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(start); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var ev *xdispatch.Event
			err := it.Item().Value(func(val []byte) error {
				var derr error
				ev, derr = w.ser.Unmarshal(val)
				return derr
			})
			if err != nil {
				return err
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close releases the store.
func (w *WAL) Close() error { return w.db.Close() }

// walKey orders entries by publish time; the id suffix keeps keys unique
// within one nanosecond.
func walKey(ts time.Time, id string) []byte {
	key := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(key, uint64(ts.UnixNano()))
	return append(key, id...)
}
