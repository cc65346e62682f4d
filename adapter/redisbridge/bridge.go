package redisbridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trickstertwo/xdispatch"
)

// TransportName is the registry key for the named-factory construction path.
const TransportName = "redisstream"

const fieldFrame = "frame"

func init() {
	if err := xdispatch.RegisterTransport(TransportName, func(cfg map[string]any) (xdispatch.Transport, error) {
		return New(configFromMap(cfg))
	}); err != nil {
		panic(fmt.Errorf("redisbridge: failed to register transport: %w", err))
	}
}

// Bridge implements xdispatch.Transport over Redis Streams.
type Bridge struct {
	cfg    Config
	client *redis.Client

	handlerMu sync.Mutex
	handler   func(data []byte)

	started   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

var _ xdispatch.Transport = (*Bridge)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   3,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisbridge: ping failed: %w", err)
	}

	return &Bridge{cfg: cfg, client: client}, nil
}

// Send appends one encoded frame. An empty nodeID broadcasts on the base
// stream; otherwise the frame lands on the peer's own stream.
func (b *Bridge) Send(ctx context.Context, nodeID string, data []byte) error {
	if b.closed.Load() {
		return errors.New("redisbridge: bridge is closed")
	}

	args := &redis.XAddArgs{
		Stream: b.streamFor(nodeID),
		ID:     "*",
		Values: map[string]any{fieldFrame: data},
	}
	if b.cfg.MaxLenApprox > 0 {
		args.MaxLen = b.cfg.MaxLenApprox
		args.Approx = true
	}
	return b.client.XAdd(ctx, args).Err()
}

// OnReceive binds the inbound handler and starts the consumer-group loop on
// first call.
func (b *Bridge) OnReceive(fn func(data []byte)) {
	b.handlerMu.Lock()
	b.handler = fn
	b.handlerMu.Unlock()

	if fn == nil || !b.started.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel

	if b.cfg.AutoCreate {
		err := b.client.XGroupCreateMkStream(ctx, b.cfg.Stream, b.cfg.Group, "$").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			// Group may already exist; anything else surfaces on first read.
			_ = err
		}
	}

	b.wg.Add(1)
	go b.consumeLoop(ctx)
}

func (b *Bridge) consumeLoop(ctx context.Context) {
	defer b.wg.Done()
	for {
		if ctx.Err() != nil || b.closed.Load() {
			return
		}

		streams, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    b.cfg.Group,
			Consumer: b.cfg.Consumer,
			Streams:  []string{b.cfg.Stream, ">"},
			Count:    int64(b.cfg.BatchSize),
			Block:    b.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			// Transient read failure: back off briefly instead of spinning.
			select {
			case <-ctx.Done():
				return
			case <-time.After(250 * time.Millisecond):
			}
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				b.dispatchFrame(msg)
				_ = b.client.XAck(ctx, b.cfg.Stream, b.cfg.Group, msg.ID).Err()
			}
		}
	}
}

func (b *Bridge) dispatchFrame(msg redis.XMessage) {
	raw, ok := msg.Values[fieldFrame]
	if !ok {
		return
	}

	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return
	}

	b.handlerMu.Lock()
	fn := b.handler
	b.handlerMu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// Close stops the consumer loop and releases the client.
func (b *Bridge) Close(ctx context.Context) error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.cancel != nil {
			b.cancel()
		}

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			closeErr = ctx.Err()
		}

		if err := b.client.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
	})
	return closeErr
}

func (b *Bridge) streamFor(nodeID string) string {
	if nodeID == "" {
		return b.cfg.Stream
	}
	return b.cfg.Stream + "." + nodeID
}

func configFromMap(cfg map[string]any) Config {
	out := Defaults()
	if v, ok := cfg["addr"].(string); ok && v != "" {
		out.Addr = v
	}
	if v, ok := cfg["username"].(string); ok {
		out.Username = v
	}
	if v, ok := cfg["password"].(string); ok {
		out.Password = v
	}
	if v, ok := cfg["db"].(int); ok {
		out.DB = v
	}
	if v, ok := cfg["stream"].(string); ok && v != "" {
		out.Stream = v
	}
	if v, ok := cfg["group"].(string); ok && v != "" {
		out.Group = v
	}
	if v, ok := cfg["consumer"].(string); ok && v != "" {
		out.Consumer = v
	}
	if v, ok := cfg["batch_size"].(int); ok && v > 0 {
		out.BatchSize = v
	}
	switch v := cfg["block"].(type) {
	case time.Duration:
		out.Block = v
	case string:
		if p, err := time.ParseDuration(v); err == nil {
			out.Block = p
		}
	}
	if v, ok := cfg["max_len_approx"].(int64); ok {
		out.MaxLenApprox = v
	}
	if v, ok := cfg["auto_create"].(bool); ok {
		out.AutoCreate = v
	}
	return out
}
