package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	corenotify "github.com/kilianp07/dockflow/core/notify"
)

// RedisConfig defines the Redis connection and channel prefix.
type RedisConfig struct {
	URL           string `json:"url"`
	ChannelPrefix string `json:"channel_prefix"`
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisNotifier publishes stage messages on <channel_prefix>:<stage>.
type RedisNotifier struct {
	client redisPublisher
	prefix string
}

// NewRedisNotifier parses the URL and checks connectivity.
func NewRedisNotifier(ctx context.Context, cfg RedisConfig) (*RedisNotifier, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newRedisNotifier(client, cfg.ChannelPrefix), nil
}

func newRedisNotifier(client redisPublisher, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "dockflow:pipeline"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

// Channel returns the channel a stage is published on.
func (n *RedisNotifier) Channel(stage string) string {
	return n.prefix + ":" + stage
}

// Notify publishes msg as JSON.
func (n *RedisNotifier) Notify(ctx context.Context, msg corenotify.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	channel := n.Channel(string(msg.Report.Stage))
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Close closes the client.
func (n *RedisNotifier) Close() error { return n.client.Close() }
