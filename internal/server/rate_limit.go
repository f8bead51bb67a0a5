package server

import (
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/packclaim/internal/observability/logger"
	"go.uber.org/zap"
)

// RateLimit throttles a public route per client IP. Limiter failures let the
// request through.
func (s *Server) RateLimit(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		result, err := s.limiter.Allow(ctx, scope, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("rate limit check failed, allowing request",
				zap.String("scope", scope),
				zap.Error(err),
			)
			c.Next()
			return
		}

		s.obsMetrics.RecordRateLimit(scope, result.Allowed)
		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(result.RetryAfter)))
			logger.FromContext(ctx).Info("rate limited",
				zap.String("scope", scope),
				zap.String("client_ip", c.ClientIP()),
			)
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
