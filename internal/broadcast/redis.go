package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomChannelPrefix = "cowrite:rooms:"
	globalChannel     = "cowrite:global"
)

// Redis publishes events over Redis pub/sub so dispatcher processes on
// other nodes can fan them out to their local connections.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewRedisWithClient wraps an existing Redis client.
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func channelFor(ev Event) string {
	if ev.RoomID != "" {
		return roomChannelPrefix + ev.RoomID
	}
	return globalChannel
}

func (b *Redis) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.client.Publish(ctx, channelFor(ev), data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SubscribeRoom streams a room's events, or global events when roomID is
// empty. Malformed messages are logged and skipped. The returned cancel
// func closes the subscription and the channel.
func (b *Redis) SubscribeRoom(ctx context.Context, roomID string) (<-chan Event, func()) {
	channel := globalChannel
	if roomID != "" {
		channel = roomChannelPrefix + roomID
	}

	pubsub := b.client.Subscribe(ctx, channel)
	out := make(chan Event, subscriberBuffer)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Printf("broadcast: dropping malformed event on %s: %v", channel, err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return out, cancel
}

// Ping checks if Redis is reachable.
func (b *Redis) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Redis) Close() error {
	return b.client.Close()
}
