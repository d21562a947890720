package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/metrics"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const HeaderIdempotencyKey = "Idempotency-Key"

// errNoRecord is returned by a ResponseCache on a miss.
var errNoRecord = errors.New("idempotency record not found")

type IdempotencyRecord struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        string    `json:"body"`
	Fingerprint string    `json:"fingerprint"`
	CreatedAt   time.Time `json:"created_at"`
}

// ResponseCache keeps replayable responses by key.
type ResponseCache interface {
	Get(ctx context.Context, key string) (*IdempotencyRecord, error)
	Set(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error
}

type IdempotencyMiddleware struct {
	cache  ResponseCache
	logger *logrus.Logger
	ttl    time.Duration
}

// NewIdempotencyMiddleware keeps records in Redis, or in process when
// redisClient is nil.
func NewIdempotencyMiddleware(redisClient *redis.Client, logger *logrus.Logger) *IdempotencyMiddleware {
	var cache ResponseCache = NewMemoryResponseCache()
	if redisClient != nil {
		cache = &RedisResponseCache{client: redisClient}
	}
	return NewIdempotencyMiddlewareWithCache(cache, logger)
}

func NewIdempotencyMiddlewareWithCache(cache ResponseCache, logger *logrus.Logger) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{cache: cache, logger: logger, ttl: 24 * time.Hour}
}

// Handle replays the stored response of a POST that carried the same
// Idempotency-Key from the same caller. Requests without the header pass
// through.
func (i *IdempotencyMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost {
			return c.Next()
		}
		key := c.Get(HeaderIdempotencyKey)
		if key == "" {
			return c.Next()
		}
		if _, err := uuid.Parse(key); err != nil {
			return apperrors.NewAppError(apperrors.CodeIdempotencyRequired,
				"Idempotency-Key must be a valid UUID", err)
		}

		ctx := c.UserContext()
		fingerprint := i.fingerprint(c)
		cacheKey := fmt.Sprintf("idempotency:%s:%s", callerScope(c), key)

		existing, err := i.cache.Get(ctx, cacheKey)
		if err != nil && !errors.Is(err, errNoRecord) {
			// continue without replay protection
			i.logger.WithError(err).Error("Failed to get idempotency record")
		}
		if existing != nil {
			if existing.Fingerprint != fingerprint {
				return apperrors.NewAppError(apperrors.CodeIdempotencyConflict,
					"Request differs from the original request with the same Idempotency-Key", nil)
			}
			metrics.RecordIdempotencyHit("hit")
			c.Set("X-Idempotency-Cached", "true")
			c.Set(fiber.HeaderContentType, existing.ContentType)
			return c.Status(existing.StatusCode).SendString(existing.Body)
		}
		metrics.RecordIdempotencyHit("miss")

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status < 200 || status >= 300 {
			return nil
		}
		// session responses are never replayed
		if len(c.Response().Header.PeekCookie(auth.CookieName)) > 0 {
			return nil
		}
		record := IdempotencyRecord{
			StatusCode:  status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        string(c.Response().Body()),
			Fingerprint: fingerprint,
			CreatedAt:   time.Now(),
		}
		if err := i.cache.Set(ctx, cacheKey, &record, i.ttl); err != nil {
			i.logger.WithError(err).WithField("idempotency_key", key).Error("Failed to store idempotency record")
		}
		return nil
	}
}

// callerScope separates keys of different callers: the signed in user,
// else a digest of the presented token, else the client address.
func callerScope(c *fiber.Ctx) string {
	if id := GetUserID(c); id != "" {
		return "user:" + id
	}
	if token := auth.ExtractToken(c.Get(fiber.HeaderAuthorization), c.Cookies(auth.CookieName)); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:16])
	}
	return "ip:" + clientIP(c)
}

func (i *IdempotencyMiddleware) fingerprint(c *fiber.Ctx) string {
	h := sha256.New()
	h.Write([]byte(c.Method()))
	h.Write([]byte(":"))
	h.Write([]byte(strings.ToLower(c.Path())))
	h.Write([]byte(":"))
	h.Write(c.Request().URI().QueryString())
	h.Write([]byte(":"))
	h.Write(c.Body())
	return hex.EncodeToString(h.Sum(nil))
}

// RedisResponseCache stores records as JSON strings with a TTL.
type RedisResponseCache struct {
	client *redis.Client
}

func (r *RedisResponseCache) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errNoRecord
	}
	if err != nil {
		return nil, err
	}

	var record IdempotencyRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal idempotency record: %w", err)
	}
	return &record, nil
}

func (r *RedisResponseCache) Set(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal idempotency record: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// MemoryResponseCache is the single instance fallback.
type MemoryResponseCache struct {
	now func() time.Time

	mu      sync.Mutex
	records map[string]memoryRecord
}

type memoryRecord struct {
	record  IdempotencyRecord
	expires time.Time
}

func NewMemoryResponseCache() *MemoryResponseCache {
	return &MemoryResponseCache{now: time.Now, records: make(map[string]memoryRecord)}
}

func (m *MemoryResponseCache) Get(ctx context.Context, key string) (*IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[key]
	if !ok {
		return nil, errNoRecord
	}
	if !m.now().Before(r.expires) {
		delete(m.records, key)
		return nil, errNoRecord
	}
	record := r.record
	return &record, nil
}

func (m *MemoryResponseCache) Set(ctx context.Context, key string, record *IdempotencyRecord, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key] = memoryRecord{record: *record, expires: m.now().Add(ttl)}
	return nil
}
