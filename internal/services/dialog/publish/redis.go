package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/louisbranch/dialog/internal/services/dialog/domain/event"
)

// DefaultChannelPrefix prefixes every Redis channel.
const DefaultChannelPrefix = "dialog"

// RedisClient is the subset of *redis.Client used for publishing.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// Redis publishes events as JSON on "<prefix>.<event type>" channels.
type Redis struct {
	client RedisClient
	prefix string
}

// NewRedis returns a Redis publisher. An empty prefix uses DefaultChannelPrefix.
func NewRedis(client RedisClient, prefix string) *Redis {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

// DialRedis connects to addr and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis %s: %w", addr, err)
	}
	return client, nil
}

// Channel returns the channel an event type is published on.
func (r *Redis) Channel(eventType event.Type) string {
	return r.prefix + "." + string(eventType)
}

// Publish sends evt to its channel.
func (r *Redis) Publish(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(MessageOf(evt))
	if err != nil {
		return fmt.Errorf("marshal event %s/%d: %w", evt.ConversationID, evt.Seq, err)
	}
	if err := r.client.Publish(ctx, r.Channel(evt.Type), data).Err(); err != nil {
		return fmt.Errorf("publish event %s/%d: %w", evt.ConversationID, evt.Seq, err)
	}
	return nil
}
