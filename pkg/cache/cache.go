package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisclient "github.com/cartvale/fraud-engine/pkg/redis"
)

// Manager handles caching operations with JSON serialization. The engine
// uses it for short-lived user fraud score lookups so that request
// middleware can read a score without a database round trip.
type Manager struct {
	redis redisclient.ClientInterface
}

// NewManager creates a new cache manager
func NewManager(redis redisclient.ClientInterface) *Manager {
	return &Manager{redis: redis}
}

// Get retrieves a cached value and unmarshals it into result
func (m *Manager) Get(ctx context.Context, key string, result interface{}) error {
	data, err := m.redis.GetString(ctx, key)
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(data), result)
}

// Set marshals and caches a value with expiration
func (m *Manager) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}

	return m.redis.SetWithExpiration(ctx, key, string(data), ttl)
}

// Invalidate removes keys from the cache
func (m *Manager) Invalidate(ctx context.Context, keys ...string) error {
	return m.redis.Delete(ctx, keys...)
}
