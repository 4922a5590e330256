package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// rateLimitMiddleware keys requests by client IP, which is the peer address unless the
// engine trusts the forwarding proxy. Limiter errors let the request through.
func rateLimitMiddleware(limiter RateLimiter, onLimited gin.HandlerFunc, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}

		decision, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			logger.Warn("rate limiter unavailable", zap.String("client_ip", key), zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		if !decision.Allowed {
			logger.Info("rate limit exceeded", zap.String("client_ip", key))
			c.Header("Retry-After", strconv.Itoa(decision.RetryAfterSeconds()))
			onLimited(c)
			return
		}
		c.Next()
	}
}
