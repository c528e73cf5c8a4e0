package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cartvale/fraud-engine/pkg/common"
	"github.com/cartvale/fraud-engine/pkg/logger"
	"github.com/cartvale/fraud-engine/pkg/ratelimit"
)

// FraudRateLimit applies the fraud-score adaptive request budget to
// authenticated callers. Unauthenticated traffic passes through: guest
// flows are outside the scoring boundary.
func FraudRateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	if limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		userID, err := GetUserID(c)
		if err != nil || userID == uuid.Nil {
			c.Next()
			return
		}

		result := limiter.Allow(c.Request.Context(), userID)

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

		if result.Allowed {
			c.Next()
			return
		}

		retrySeconds := int(result.RetryAfter.Round(time.Second) / time.Second)
		if retrySeconds <= 0 {
			retrySeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retrySeconds))

		logger.WarnContext(c.Request.Context(), "adaptive rate limit exceeded",
			zap.String("user_id", userID.String()),
			zap.Int("limit", result.Limit),
			zap.Float64("fraud_score", result.Score),
		)

		common.ErrorResponse(c, http.StatusTooManyRequests, "rate limit exceeded")
		c.Abort()
	}
}
