package intake

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultDedupTTL    = 24 * time.Hour
	defaultDedupPrefix = "leadlink:inbound:"
)

// Deduplicator guards against channels redelivering the same inbound message.
type Deduplicator interface {
	// Claim returns true the first time id is seen.
	Claim(ctx context.Context, id string) (bool, error)

	// Release forgets id so a failed message can be delivered again.
	Release(ctx context.Context, id string) error
}

// RedisDeduplicator claims message ids with SET NX and a TTL.
type RedisDeduplicator struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDeduplicator creates a deduplicator. A zero ttl keeps claims for a day.
func NewRedisDeduplicator(client *redis.Client, ttl time.Duration) *RedisDeduplicator {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}
	return &RedisDeduplicator{client: client, prefix: defaultDedupPrefix, ttl: ttl}
}

func (d *RedisDeduplicator) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+id, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim inbound message: %w", err)
	}
	return ok, nil
}

func (d *RedisDeduplicator) Release(ctx context.Context, id string) error {
	if err := d.client.Del(ctx, d.prefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release inbound message: %w", err)
	}
	return nil
}
