// Package badgerwal persists the dispatch write-ahead log in BadgerDB.
//
// The engine appends every event here before queue admission; after a
// crash, Replay feeds unacknowledged events back into the dispatcher.
// Keys are big-endian publish timestamps suffixed with the event id, so a
// time-bounded replay is a single ordered scan.
package badgerwal
