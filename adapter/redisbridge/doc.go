// Package redisbridge moves encoded xdispatch events between processes over
// Redis Streams. It implements xdispatch.Transport: Send appends frames
// with XADD, OnReceive drives a consumer-group read loop that hands every
// inbound frame to the bus. Clustering semantics (who consumes what) come
// entirely from the consumer group configuration; the engine stays
// topology-agnostic.
package redisbridge
