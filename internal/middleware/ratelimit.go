package middleware

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/metrics"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const MsgTooManyRequests = "Too many requests from this IP, please try again in an hour!"

// Limiter takes one token for key.
type Limiter interface {
	Take(ctx context.Context, key string) (allowed bool, remaining int, err error)
}

type RateLimitMiddleware struct {
	config  *config.RateLimitConfig
	limiter Limiter
	logger  *logrus.Logger
}

// NewRateLimitMiddleware limits with Redis when a client is given and in
// process otherwise.
func NewRateLimitMiddleware(cfg *config.RateLimitConfig, redisClient *redis.Client, logger *logrus.Logger) *RateLimitMiddleware {
	var limiter Limiter
	if redisClient != nil {
		limiter = NewRedisLimiter(redisClient, cfg.Max, cfg.Window)
	} else {
		limiter = NewMemoryLimiter(cfg.Max, cfg.Window)
	}
	return NewRateLimitMiddlewareWithLimiter(cfg, limiter, logger)
}

func NewRateLimitMiddlewareWithLimiter(cfg *config.RateLimitConfig, limiter Limiter, logger *logrus.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{config: cfg, limiter: limiter, logger: logger}
}

// Handle rate limiting middleware
func (r *RateLimitMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !r.config.Enabled {
			return c.Next()
		}

		path := c.Path()
		for _, exemptPath := range r.config.ExemptPaths {
			if exemptPath != "" && strings.HasPrefix(path, exemptPath) {
				return c.Next()
			}
		}

		key := "ratelimit:ip:" + clientIP(c)
		allowed, remaining, err := r.limiter.Take(c.UserContext(), key)
		if err != nil {
			// fail open
			r.logger.WithError(err).Error("Rate limit check failed")
			return c.Next()
		}

		c.Set("X-RateLimit-Limit", strconv.Itoa(r.config.Max))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			metrics.RecordRateLimitDrop("ip")
			r.logger.WithFields(logrus.Fields{
				"key":    key,
				"path":   path,
				"method": c.Method(),
			}).Warn("Rate limit exceeded")

			c.Set("Retry-After", strconv.Itoa(int(r.config.Window.Seconds())))
			return apperrors.NewAppError(apperrors.CodeRateLimited, MsgTooManyRequests, nil)
		}

		return c.Next()
	}
}

// clientIP prefers the first X-Forwarded-For hop set by the load balancer.
func clientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.IP()
}

// RedisLimiter is a token bucket of max tokens refilled evenly over window,
// evaluated atomically in a Lua script.
type RedisLimiter struct {
	client *redis.Client
	script *redis.Script
	max    int
	window time.Duration
}

var tokenBucket = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local window_ms = tonumber(ARGV[2])

local bucket = redis.call("HMGET", key, "tokens", "last_refill")
local current_tokens = tonumber(bucket[1]) or capacity
local last_refill = tonumber(bucket[2]) or 0

local now = redis.call("TIME")
local now_ms = now[1] * 1000 + math.floor(now[2] / 1000)

if last_refill > 0 then
    local elapsed = now_ms - last_refill
    local tokens_to_add = math.floor(elapsed * capacity / window_ms)
    if tokens_to_add > 0 then
        current_tokens = math.min(capacity, current_tokens + tokens_to_add)
    else
        now_ms = last_refill
    end
end

local allowed = 0
if current_tokens >= 1 then
    current_tokens = current_tokens - 1
    allowed = 1
end

redis.call("HSET", key, "tokens", current_tokens, "last_refill", now_ms)
redis.call("PEXPIRE", key, window_ms)

return {allowed, current_tokens}`)

func NewRedisLimiter(client *redis.Client, max int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, script: tokenBucket, max: max, window: window}
}

func (l *RedisLimiter) Take(ctx context.Context, key string) (bool, int, error) {
	result, err := l.script.Run(ctx, l.client, []string{key}, l.max, l.window.Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to execute rate limit script: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected script result format")
	}
	allowed, ok := values[0].(int64)
	if !ok {
		return false, 0, fmt.Errorf("failed to parse allowed result")
	}
	remaining, ok := values[1].(int64)
	if !ok {
		return false, 0, fmt.Errorf("failed to parse remaining result")
	}
	return allowed == 1, int(remaining), nil
}

// MemoryLimiter counts requests per key in fixed windows.
type MemoryLimiter struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*memoryWindow
}

type memoryWindow struct {
	start time.Time
	count int
}

func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{max: max, window: window, now: time.Now, windows: make(map[string]*memoryWindow)}
}

func (l *MemoryLimiter) Take(ctx context.Context, key string) (bool, int, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.window {
		w = &memoryWindow{start: now}
		l.windows[key] = w
		l.evict(now)
	}
	if w.count >= l.max {
		return false, 0, nil
	}
	w.count++
	return true, l.max - w.count, nil
}

// evict drops expired windows. Called with mu held.
func (l *MemoryLimiter) evict(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= l.window {
			delete(l.windows, k)
		}
	}
}
