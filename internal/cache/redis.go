// Package cache holds aggregator snapshots in Redis. Every snapshot key embeds
// a generation counter that is bumped after each ledger commit, so a snapshot
// written from pre-commit data can never be served after the commit is visible.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	generationKey  = "ledger:generation"
	snapshotPrefix = "ledger:snapshot:"
)

// RedisSnapshotCache stores JSON snapshots keyed by generation
type RedisSnapshotCache struct {
	redis redis.Cmdable
	ttl   time.Duration
}

// NewRedisSnapshotCache creates a cache whose entries expire after ttl
func NewRedisSnapshotCache(client redis.Cmdable, ttl time.Duration) *RedisSnapshotCache {
	return &RedisSnapshotCache{
		redis: client,
		ttl:   ttl,
	}
}

// Generation returns the current generation, zero before the first commit
func (c *RedisSnapshotCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.redis.Get(ctx, generationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return gen, nil
}

// Load decodes the snapshot stored for generation into dst
func (c *RedisSnapshotCache) Load(ctx context.Context, generation int64, name string, dst any) (bool, error) {
	data, err := c.redis.Get(ctx, snapshotKey(generation, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode snapshot %s: %w", name, err)
	}
	return true, nil
}

// Save stores value for generation
func (c *RedisSnapshotCache) Save(ctx context.Context, generation int64, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", name, err)
	}
	if err := c.redis.Set(ctx, snapshotKey(generation, name), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("write snapshot %s: %w", name, err)
	}
	return nil
}

// Invalidate moves every reader to a fresh generation
func (c *RedisSnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.redis.Incr(ctx, generationKey).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

func snapshotKey(generation int64, name string) string {
	return fmt.Sprintf("%s%d:%s", snapshotPrefix, generation, name)
}
