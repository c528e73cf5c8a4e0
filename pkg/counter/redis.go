package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// incrScript increments the key and attaches the TTL only on creation.
// Running INCR and EXPIRE inside one script keeps the check-and-account
// step atomic: two racing requests can never both observe a pre-increment
// count, and a later increment never resets an in-flight window.
const incrScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return count
`

// RedisStore is the production Store backed by Redis.
type RedisStore struct {
	client redis.Cmdable
	script *redis.Script
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{
		client: client,
		script: redis.NewScript(incrScript),
	}
}

// IncrementAndGet atomically increments key, setting ttl on first creation.
func (s *RedisStore) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}

	result, err := s.script.Run(ctx, s.client, []string{key}, ttlSeconds).Result()
	if err != nil {
		return 0, fmt.Errorf("counter increment %s: %w", key, err)
	}

	count, ok := result.(int64)
	if !ok {
		return 0, fmt.Errorf("counter increment %s: unexpected script response %T", key, result)
	}

	return count, nil
}

// Get returns the current counter value without touching the TTL.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("counter get %s: %w", key, err)
	}

	count, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("counter get %s: non-numeric value %q", key, value)
	}

	return count, true, nil
}

var _ Store = (*RedisStore)(nil)
