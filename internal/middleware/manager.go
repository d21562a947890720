package middleware

import (
	"context"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Manager bundles the request middleware that shares the Redis client.
type Manager struct {
	Auth        *AuthMiddleware
	Idempotency *IdempotencyMiddleware
	RateLimit   *RateLimitMiddleware
	ErrorLogger *ErrorLoggerMiddleware

	redis *redis.Client
}

// NewManager wires the middleware around guard. redisClient may be nil:
// rate limits and idempotency records then live in process.
func NewManager(cfg *config.Config, guard *auth.Guard, redisClient *redis.Client, logger *logrus.Logger) *Manager {
	return &Manager{
		Auth:        NewAuthMiddleware(guard, logger),
		Idempotency: NewIdempotencyMiddleware(redisClient, logger),
		RateLimit:   NewRateLimitMiddleware(&cfg.RateLimit, redisClient, logger),
		ErrorLogger: NewErrorLoggerMiddleware(logger),
		redis:       redisClient,
	}
}

// Ready fails when the shared Redis stops answering.
func (m *Manager) Ready(ctx context.Context) error {
	return RedisHealthCheck(m.redis)(ctx)
}

func (m *Manager) Close() error {
	if m.redis == nil {
		return nil
	}
	return m.redis.Close()
}
