package middleware

import (
	"nextgen/internal/common/ratelimit"
	"nextgen/pkg/errors"
	"nextgen/pkg/utils/logger"
	"nextgen/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RateLimitMiddleware throttles requests per client IP.
// Cache failures fail open so a Redis outage does not take the runner down.
func RateLimitMiddleware(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		err := limiter.Allow(c.Request.Context(), c.ClientIP())
		if err == nil {
			c.Next()
			return
		}
		if errors.GetCode(err) == errors.TooManyRequests {
			response.AbortWithError(c, err)
			return
		}
		logger.Warn(c.Request.Context(), "rate limiter unavailable, allowing request", zap.Error(err))
		c.Next()
	}
}
