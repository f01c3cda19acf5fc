package broadcast

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher uses Redis pub/sub. Subscribers that join late miss earlier events.
type RedisPublisher struct {
	client *redis.Client
}

func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}
