package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"islandctl/src/logging"
)

// RedisBus implements Bus over a single Redis Pub/Sub channel, re-pointing
// the teacher's retry-connect/typed-envelope event bus shape from NATS
// JetStream onto the stack's live `go-redis/redis/v8` dependency.
type RedisBus struct {
	client  *redis.Client
	channel string
	log     logging.Logger
}

// RedisBusConfig configures RedisBus.
type RedisBusConfig struct {
	URL     string
	Channel string
}

// NewRedisBus connects to Redis and returns a Bus bound to cfg.Channel.
func NewRedisBus(cfg RedisBusConfig, log logging.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("eventbus: ping redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "islandctl.events"
	}
	return &RedisBus{client: client, channel: channel, log: log}, nil
}

func (b *RedisBus) Publish(ctx context.Context, recipientIDs []string, eventType string, payload interface{}) error {
	msg, err := NewMessage(recipientIDs, eventType, payload)
	if err != nil {
		return fmt.Errorf("eventbus: marshal payload for %s: %w", eventType, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("eventbus: marshal message: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("eventbus: publish %s: %w", eventType, err)
	}
	return nil
}

// Subscribe blocks, delivering every Message received on the channel to
// handler, until ctx is cancelled. A malformed message is logged and
// skipped rather than killing the subscription.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("eventbus: subscribe %s: %w", b.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-ch:
			if !ok {
				return fmt.Errorf("eventbus: subscription channel closed")
			}
			var msg Message
			if err := json.Unmarshal([]byte(raw.Payload), &msg); err != nil {
				b.log.Warn(ctx, "eventbus: dropping malformed message", logging.Err(err))
				continue
			}
			handler(msg)
		}
	}
}

// AcquireLeader is a thin wrapper over Redis SET key value NX PX ttl.
func (b *RedisBus) AcquireLeader(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := b.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("eventbus: acquire leader %s: %w", key, err)
	}
	return ok, nil
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
