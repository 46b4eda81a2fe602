package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Publisher fans presence changes out on a Redis channel for other processes.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, channel string, payload []byte) error {
	return p.client.Publish(ctx, channel, payload).Err()
}
