package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/cartvale/fraud-engine/pkg/config"
	"github.com/cartvale/fraud-engine/pkg/counter"
)

type stubScores struct {
	score float64
	err   error
}

func (s *stubScores) GetUserFraudScore(ctx context.Context, userID uuid.UUID) (float64, error) {
	return s.score, s.err
}

type failingStore struct{}

func (f *failingStore) IncrementAndGet(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return 0, errors.New("store unreachable")
}

func (f *failingStore) Get(ctx context.Context, key string) (int64, bool, error) {
	return 0, false, errors.New("store unreachable")
}

func limiterConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:       true,
		RedisPrefix:   "ratelimit:fraud",
		WindowSeconds: 3600,
	}
}

func TestBudgetForScoreSteps(t *testing.T) {
	tests := []struct {
		score  float64
		budget int
	}{
		{0.0, 1000},
		{0.19, 1000},
		{0.2, 500},
		{0.4, 200},
		{0.6, 50},
		{0.79, 50},
		{0.8, 10},
		{1.0, 10},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.budget, BudgetForScore(tt.score), "score %.2f", tt.score)
	}
}

func TestAllowWithinBudget(t *testing.T) {
	limiter := NewLimiter(counter.NewMemoryStore(), &stubScores{score: 0.85}, limiterConfig())
	userID := uuid.New()

	for i := 0; i < 10; i++ {
		result := limiter.Allow(context.Background(), userID)
		assert.True(t, result.Allowed, "request %d should be within the 10/hr budget", i+1)
		assert.Equal(t, 10, result.Limit)
	}

	result := limiter.Allow(context.Background(), userID)
	assert.False(t, result.Allowed)
	assert.Equal(t, time.Hour, result.RetryAfter, "retry-after equals the window length")
	assert.Zero(t, result.Remaining)
}

func TestAllowScoreLookupFailureDefaultsToLowestTier(t *testing.T) {
	limiter := NewLimiter(counter.NewMemoryStore(), &stubScores{err: errors.New("db down")}, limiterConfig())

	result := limiter.Allow(context.Background(), uuid.New())
	assert.True(t, result.Allowed)
	assert.Equal(t, 1000, result.Limit)
}

func TestAllowFailsOpenWhenCounterUnavailable(t *testing.T) {
	limiter := NewLimiter(&failingStore{}, &stubScores{score: 0.9}, limiterConfig())

	result := limiter.Allow(context.Background(), uuid.New())
	assert.True(t, result.Allowed, "counter outage must never block traffic")
}

func TestAllowDisabled(t *testing.T) {
	cfg := limiterConfig()
	cfg.Enabled = false
	limiter := NewLimiter(counter.NewMemoryStore(), &stubScores{score: 1.0}, cfg)

	result := limiter.Allow(context.Background(), uuid.New())
	assert.True(t, result.Allowed)
}
