package server

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/packhouse/packline/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	warmupRatePerSecond = 1.0
	warmupBurst         = 5
)

// WarmupRateLimit throttles warmup enqueues per client IP. Without Redis the
// limiter is absent and requests pass through; a limiter error fails open
// because a lost throttle is cheaper than a lost warmup.
func (s *Server) WarmupRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.warmupLimiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		key := "packline:ratelimit:warmup:" + c.ClientIP()
		res, err := s.warmupLimiter.Allow(ctx, key, warmupRatePerSecond, warmupBurst)
		if err != nil {
			logger.FromContext(ctx).Warn("warmup rate limit check failed", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(warmupBurst))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(int(res.Remaining)))
		if !res.Allowed {
			retryAfter := int(res.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Next()
	}
}
