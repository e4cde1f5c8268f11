package middleware

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"go.uber.org/zap"

	"github.com/feral-file/ff-agent-market/internal/adapter"
	apierrors "github.com/feral-file/ff-agent-market/internal/api/shared/errors"
	"github.com/feral-file/ff-agent-market/internal/logger"
)

// DefaultRateLimitKeyPrefix namespaces the per-client limiter keys
const DefaultRateLimitKeyPrefix = "ff:agent-market:api:"

// RateLimitConfig is the per-client request budget
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
	KeyPrefix         string
}

// RateLimit limits requests per client IP with a Redis-backed GCRA limiter.
// The limiter fails open: a Redis error lets the request through.
func RateLimit(limiter adapter.RedisRateLimiter, cfg RateLimitConfig) gin.HandlerFunc {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerSecond
	}
	limit := redis_rate.Limit{
		Rate:   cfg.RequestsPerSecond,
		Burst:  burst,
		Period: time.Second,
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultRateLimitKeyPrefix
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		res, err := limiter.Allow(ctx, prefix+c.ClientIP(), limit)
		if err != nil {
			logger.WarnCtx(ctx, "Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(limit.Rate))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if res.Allowed == 0 {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierrors.NewRateLimitedError())
			return
		}

		c.Next()
	}
}
