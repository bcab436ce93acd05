package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisRelay relays events between instances over a Redis pub/sub channel.
// Payloads are already tenant-tagged; filtering happens on the delivering
// instance in Hub.Deliver.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay returns a relay on channel.
func NewRedisRelay(client *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = "sentinel:notifications"
	}
	return &RedisRelay{client: client, channel: channel}
}

// Publish implements Relay.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run implements Relay. It subscribes, confirms the subscription and hands
// each decoded event to deliver until ctx ends or the connection closes.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Event)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("discarding malformed relayed notification", "error", err)
				continue
			}
			deliver(ev)
		}
	}
}
