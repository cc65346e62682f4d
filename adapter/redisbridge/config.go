package redisbridge

import (
	"fmt"
	"os"
	"time"
)

// Config for the Redis Streams bridge.
type Config struct {
	// Connection
	Addr     string
	Username string
	Password string
	DB       int

	// Stream is the base stream key; Send to a named node appends frames
	// to Stream + "." + nodeID instead.
	Stream string

	// Consumer group
	Group      string
	Consumer   string
	BatchSize  int
	Block      time.Duration
	AutoCreate bool

	// MaxLenApprox bounds the stream with approximate trimming (0 = unbounded).
	MaxLenApprox int64
}

// Defaults returns a Config with production-safe defaults.
func Defaults() Config {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "xdispatch"
	}

	return Config{
		Addr:       "127.0.0.1:6379",
		Stream:     "xdispatch",
		Group:      "xdispatch",
		Consumer:   fmt.Sprintf("xdispatch-%s-%d", hostname, os.Getpid()),
		BatchSize:  128,
		Block:      5 * time.Second,
		AutoCreate: true,
	}
}

// Validate checks the Config before connecting.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("config: addr required")
	}
	if c.Stream == "" {
		return fmt.Errorf("config: stream required")
	}
	if c.Group == "" {
		return fmt.Errorf("config: group required")
	}
	if c.Consumer == "" {
		return fmt.Errorf("config: consumer required")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("config: batch_size must be >= 1, got %d", c.BatchSize)
	}
	if c.Block <= 0 {
		return fmt.Errorf("config: block must be > 0, got %v", c.Block)
	}
	return nil
}
