package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimitKeyPrefix namespaces limiter keys next to the link keys
const RateLimitKeyPrefix = "short:rate_limit:"

// RateLimitStrategy defines the rate limiting algorithm to use
type RateLimitStrategy string

const (
	// FixedWindow counts requests per aligned window. Cheap, but allows up
	// to 2x the limit across a window boundary.
	FixedWindow RateLimitStrategy = "fixed_window"

	// SlidingWindow keeps one sorted set member per request and counts the
	// members younger than the window.
	SlidingWindow RateLimitStrategy = "sliding_window"
)

// ParseStrategy maps a config value to a strategy
func ParseStrategy(s string) (RateLimitStrategy, error) {
	switch RateLimitStrategy(s) {
	case FixedWindow, SlidingWindow:
		return RateLimitStrategy(s), nil
	case "":
		return SlidingWindow, nil
	}
	return "", fmt.Errorf("unknown rate limit strategy %q", s)
}

// RateLimitConfig holds configuration for the rate limiter
type RateLimitConfig struct {
	Strategy RateLimitStrategy

	// Limit is the maximum number of requests per Window
	Limit  int
	Window time.Duration

	// Scope separates the budgets of limiters that share a key function
	Scope string

	// KeyFunc generates the rate limit key (default: client IP and route)
	KeyFunc func(*gin.Context) string

	// ErrorHandler is called when rate limit is exceeded
	ErrorHandler func(*gin.Context)

	// SkipFunc determines if rate limiting should be skipped for this request
	SkipFunc func(*gin.Context) bool
}

// RateLimiter manages rate limiting using Redis
type RateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	log    zerolog.Logger
}

// NewRateLimiter creates a new rate limiter instance
func NewRateLimiter(redisClient *redis.Client, config *RateLimitConfig, log zerolog.Logger) *RateLimiter {
	if config.Strategy == "" {
		config.Strategy = SlidingWindow
	}
	if config.KeyFunc == nil {
		config.KeyFunc = IPAndRouteKey
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultErrorHandler
	}
	if config.SkipFunc == nil {
		config.SkipFunc = func(*gin.Context) bool { return false }
	}

	return &RateLimiter{
		redis:  redisClient,
		config: config,
		log:    log.With().Str("component", "ratelimit").Str("scope", config.Scope).Logger(),
	}
}

// Middleware returns a Gin middleware function
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.config.SkipFunc(c) {
			c.Next()
			return
		}

		key := RateLimitKeyPrefix + rl.config.Scope + ":" + rl.config.KeyFunc(c)

		allowed, remaining, resetTime, err := rl.checkRateLimit(c.Request.Context(), key)
		if err != nil {
			// Redis trouble must not take the redirect path down with it
			rl.log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable, failing open")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime, 10))

		if !allowed {
			retryAfter := resetTime - time.Now().Unix()
			if retryAfter < 0 {
				retryAfter = 0
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))

			rl.config.ErrorHandler(c)
			c.Abort()
			return
		}

		c.Next()
	}
}

// checkRateLimit returns (allowed, remaining, resetTime, error)
func (rl *RateLimiter) checkRateLimit(ctx context.Context, key string) (bool, int, int64, error) {
	switch rl.config.Strategy {
	case FixedWindow:
		return rl.fixedWindowCheck(ctx, key)
	default:
		return rl.slidingWindowCheck(ctx, key)
	}
}

// fixedWindowCheck increments the counter of the current aligned window.
//
//	10:00:59  5 requests, count=5  allowed
//	10:01:00  window resets, count=1
func (rl *RateLimiter) fixedWindowCheck(ctx context.Context, key string) (bool, int, int64, error) {
	now := time.Now()
	windowStart := now.Truncate(rl.config.Window).Unix()
	windowKey := fmt.Sprintf("%s:%d", key, windowStart)

	pipe := rl.redis.Pipeline()
	incrCmd := pipe.Incr(ctx, windowKey)
	// 2x window tolerates clock skew between instances
	pipe.Expire(ctx, windowKey, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(incrCmd.Val())
	resetTime := windowStart + int64(rl.config.Window.Seconds())

	return count <= rl.config.Limit, remaining(rl.config.Limit, count), resetTime, nil
}

// slidingWindowCheck stores one member per request, scored by its time in
// nanoseconds, and counts what is left after trimming the expired tail.
func (rl *RateLimiter) slidingWindowCheck(ctx context.Context, key string) (bool, int, int64, error) {
	now := time.Now()
	windowStart := now.Add(-rl.config.Window).UnixNano()

	pipe := rl.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	// members must be unique even for requests in the same nanosecond
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: uuid.NewString(),
	})
	zcardCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, rl.config.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, err
	}

	count := int(zcardCmd.Val())
	resetTime := now.Add(rl.config.Window).Unix()

	return count <= rl.config.Limit, remaining(rl.config.Limit, count), resetTime, nil
}

func remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

func defaultErrorHandler(c *gin.Context) {
	c.JSON(http.StatusTooManyRequests, gin.H{
		"code":    http.StatusTooManyRequests,
		"message": "Rate limit exceeded. Please try again later.",
	})
}

// IPBasedKey shares one budget per client across all routes
func IPBasedKey(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// IPAndRouteKey keys by client IP and the matched route template, so every
// short code behind /:short_code draws from the same budget.
func IPAndRouteKey(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return c.ClientIP() + ":" + route
}

// SkipHealthCheck skips rate limiting for health check endpoints
func SkipHealthCheck(c *gin.Context) bool {
	return c.Request.URL.Path == "/health"
}
