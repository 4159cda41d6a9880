// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list that lobby activity records are pushed to.
const DefaultQueueName = "lobby_activity"

// ConnectRedis opens a client and verifies it with a PING.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// Publisher pushes activity records onto a Redis list for downstream consumers.
// It implements lobby.ActivitySink.
type Publisher struct {
	rdb   redis.Cmdable
	queue string
}

// NewPublisher returns a Publisher for the given list. An empty queue uses DefaultQueueName.
func NewPublisher(rdb redis.Cmdable, queue string) *Publisher {
	if queue == "" {
		queue = DefaultQueueName
	}
	return &Publisher{rdb: rdb, queue: queue}
}

// Queue is the list name records are pushed to.
func (p *Publisher) Queue() string { return p.queue }

// Record serializes the activity to JSON and RPushes it.
func (p *Publisher) Record(ctx context.Context, a lobby.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal lobby activity: %w", err)
	}
	if err := p.rdb.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}
