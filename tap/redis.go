package tap

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a Redis pub/sub channel named after the topic.
type RedisSink struct {
	rdb *redis.Client
}

// NewRedisSink connects to addr and pings it once.
func NewRedisSink(ctx context.Context, addr string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("tap: redis ping %s: %w", addr, err)
	}
	return &RedisSink{rdb: rdb}, nil
}

func (s *RedisSink) Publish(ctx context.Context, topic string, payload []byte) error {
	return s.rdb.Publish(ctx, topic, payload).Err()
}

func (s *RedisSink) Close() error {
	return s.rdb.Close()
}
