package consumer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL is how long a handled event id is remembered.
const DefaultDedupeTTL = 7 * 24 * time.Hour

// cacheDeleter is the part of a Redis client the cache invalidator uses.
type cacheDeleter interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// dedupeClient is the part of a Redis client the deduper uses.
type dedupeClient interface {
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisDeduper records handled event ids as expiring Redis keys.
type RedisDeduper struct {
	client dedupeClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper. A non-positive ttl uses
// DefaultDedupeTTL.
func NewRedisDeduper(client dedupeClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: "crates:event:", ttl: ttl}
}

func (d *RedisDeduper) key(eventID string) string { return d.prefix + eventID }

// Seen reports whether eventID was marked.
func (d *RedisDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.client.Exists(ctx, d.key(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records eventID. Marking twice keeps the first expiry.
func (d *RedisDeduper) Mark(ctx context.Context, eventID string) error {
	return d.client.SetNX(ctx, d.key(eventID), time.Now().UTC().Format(time.RFC3339), d.ttl).Err()
}
