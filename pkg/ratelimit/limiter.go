// Package ratelimit implements the adaptive per-user request budget: the
// higher a user's current fraud score, the smaller their hourly budget.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/config"
	"github.com/cartvale/fraud-engine/pkg/counter"
	"github.com/cartvale/fraud-engine/pkg/logger"
)

// ScoreSource supplies a user's current aggregate fraud score in [0,1].
type ScoreSource interface {
	GetUserFraudScore(ctx context.Context, userID uuid.UUID) (float64, error)
}

// Result captures the outcome of a rate limiting decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	Window     time.Duration
	Score      float64
}

// Limiter scales a fixed-window request budget by fraud score. It shares
// the counter store's atomic increment-with-expiry, so the check and the
// accounting are one operation.
type Limiter struct {
	store  counter.Store
	scores ScoreSource
	cfg    config.RateLimitConfig
}

// NewLimiter creates a new adaptive limiter.
func NewLimiter(store counter.Store, scores ScoreSource, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{store: store, scores: scores, cfg: cfg}
}

// BudgetForScore maps a fraud score to an hourly request budget via a
// fixed step function.
func BudgetForScore(score float64) int {
	switch {
	case score >= 0.8:
		return 10
	case score >= 0.6:
		return 50
	case score >= 0.4:
		return 200
	case score >= 0.2:
		return 500
	default:
		return 1000
	}
}

// Allow consumes one unit of the user's budget for the current window.
// Counter store failures never block the request: the call degrades to
// "allow, but unmetered" with a logged warning.
func (l *Limiter) Allow(ctx context.Context, userID uuid.UUID) Result {
	window := l.cfg.Window()

	if !l.cfg.Enabled {
		return Result{Allowed: true, Limit: 0, Remaining: 0, Window: window}
	}

	score := 0.0
	if l.scores != nil {
		s, err := l.scores.GetUserFraudScore(ctx, userID)
		if err != nil {
			logger.WarnContext(ctx, "fraud score lookup failed, defaulting to lowest tier",
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		} else {
			score = s
		}
	}

	limit := BudgetForScore(score)
	key := fmt.Sprintf("%s:%s", l.cfg.RedisPrefix, userID)

	count, err := l.store.IncrementAndGet(ctx, key, window)
	if err != nil {
		logger.WarnContext(ctx, "rate limit counter unavailable, allowing unmetered",
			zap.String("key", key),
			zap.Error(err),
		)
		return Result{Allowed: true, Limit: limit, Remaining: limit, Window: window, Score: score}
	}

	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	result := Result{
		Allowed:   int(count) <= limit,
		Limit:     limit,
		Remaining: remaining,
		Window:    window,
		Score:     score,
	}

	if !result.Allowed {
		result.RetryAfter = window
	}

	return result
}
