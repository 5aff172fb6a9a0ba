package common

import (
	"context"
	"time"
)

// SeenTracker records one-shot markers and counters in Redis.
// Knows nothing about webhooks or mailboxes -- just operates on keys.
type SeenTracker struct {
	rdb *RedisClient
}

func NewSeenTracker(rdb *RedisClient) *SeenTracker {
	return &SeenTracker{rdb: rdb}
}

// MarkOnce sets key if absent and reports whether this call set it
func (t *SeenTracker) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return t.rdb.SetNX(ctx, key, 1, ttl).Result()
}

// Forget removes a marker so the next MarkOnce succeeds again
func (t *SeenTracker) Forget(ctx context.Context, key string) error {
	return t.rdb.Del(ctx, key).Err()
}

// Incr bumps a counter and refreshes its expiry
func (t *SeenTracker) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := t.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Count reads a counter; missing keys count as zero
func (t *SeenTracker) Count(ctx context.Context, key string) (int64, error) {
	n, err := t.rdb.Get(ctx, key).Int64()
	if err != nil {
		if IsRedisNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
