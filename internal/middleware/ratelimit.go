package middleware

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/pkg/response"
)

// RateLimiter counts requests per user in fixed clock-aligned windows.
type RateLimiter struct {
	redis  *redis.Client
	logger zerolog.Logger
	now    func() time.Time
}

func NewRateLimiter(redisClient *redis.Client, logger zerolog.Logger) *RateLimiter {
	return &RateLimiter{redis: redisClient, logger: logger, now: time.Now}
}

// Limit allows maxRequests per window for each authenticated user. Anonymous
// requests and a non-positive max pass through.
func (rl *RateLimiter) Limit(keyPrefix string, maxRequests int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := GetUserID(c)
		if userID == "" || maxRequests <= 0 {
			return c.Next()
		}

		now := rl.now()
		start := now.Truncate(window)
		key := fmt.Sprintf("ratelimit:%s:%s:%d", keyPrefix, userID, start.Unix())

		var incr *redis.IntCmd
		_, err := rl.redis.TxPipelined(c.UserContext(), func(pipe redis.Pipeliner) error {
			incr = pipe.Incr(c.UserContext(), key)
			pipe.Expire(c.UserContext(), key, window)
			return nil
		})
		if err != nil {
			// Fail open.
			rl.logger.Warn().Err(err).Str("key", key).Msg("ratelimit: redis unavailable")
			return c.Next()
		}

		count := incr.Val()
		c.Set("X-RateLimit-Limit", strconv.Itoa(maxRequests))
		if count > int64(maxRequests) {
			retry := start.Add(window).Sub(now)
			c.Set("X-RateLimit-Remaining", "0")
			c.Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			return response.RateLimited(c)
		}
		c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(maxRequests)-count, 10))
		return c.Next()
	}
}

// SubmitLimit caps video submissions per user per hour.
func (rl *RateLimiter) SubmitLimit(maxPerHour int) fiber.Handler {
	return rl.Limit("submit", maxPerHour, time.Hour)
}
