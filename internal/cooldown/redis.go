package cooldown

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "cooldown:"

// RedisCache stores last-trigger times in Redis so several engine instances
// share one cooldown. SET NX PX makes the check-and-set a single atomic step.
// Unlike MemoryCache, entries outlive an engine restart while Redis keeps them.
type RedisCache struct {
	client redis.UniversalClient
}

// NewRedisCache wraps a go-redis client
func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// Acquire implements Cache
func (r *RedisCache) Acquire(ctx context.Context, key Key, now time.Time, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	// the key must still exist at exactly now+window, which is inside the window
	ok, err := r.client.SetNX(ctx, redisKeyPrefix+key.String(), now.UnixNano(), window+time.Millisecond).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return ok, nil
}

// Last implements Cache
func (r *RedisCache) Last(ctx context.Context, key Key) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+key.String()).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("cooldown: corrupt entry %q: %w", raw, err)
	}
	return time.Unix(0, ns), true, nil
}

// Reset implements Cache
func (r *RedisCache) Reset(ctx context.Context) error {
	iter := r.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return nil
}
