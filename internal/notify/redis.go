package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"lotwatch/internal/models"
)

// RedisSink publishes changes on a pub/sub channel and keeps the latest
// value of each item under lot:{id}:current_value.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(addr, channel string) (*RedisSink, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisSink{client: rdb, channel: channel}, nil
}

func (s *RedisSink) Publish(ctx context.Context, c models.Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, fmt.Sprintf("lot:%d:current_value", c.ItemID), c.NewValue, 0)
	pipe.Publish(ctx, s.channel, payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
