package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper filters repeated notification deliveries.
type Deduper interface {
	// Seen records the message id and reports whether it was already
	// recorded. The first caller gets false.
	Seen(ctx context.Context, messageID string) (bool, error)
}

// dedupeTTL bounds memory for the dedupe keys; SNS redelivery windows are
// far shorter than a day.
const dedupeTTL = 24 * time.Hour

// RedisDeduper implements Deduper with SETNX, shared across processes.
type RedisDeduper struct {
	redis *redis.Client
}

// NewRedisDeduper creates a Redis-backed deduper.
func NewRedisDeduper(rdb *redis.Client) *RedisDeduper {
	return &RedisDeduper{redis: rdb}
}

// Seen is atomic: concurrent deliveries of one message agree on a single
// winner.
func (d *RedisDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	key := "dispatch:sns:" + messageID
	set, err := d.redis.SetNX(ctx, key, 1, dedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return !set, nil
}
