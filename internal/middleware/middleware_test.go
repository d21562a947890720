package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    apperrors.ErrorCode
		message string
	}{
		{"cast", &query.CastError{Path: "price", Value: "abc"}, apperrors.CodeCast, "Invalid price: abc."},
		{"duplicate", &store.DuplicateKeyError{Collection: "tours", Fields: []string{"name"}, Value: "The Forest Hiker"},
			apperrors.CodeDuplicateKey, "Duplicate field value: The Forest Hiker. Please use another value!"},
		{"not found", fmt.Errorf("load: %w", store.ErrNotFound), apperrors.CodeNotFound, MsgDocumentNotFound},
		{"conflict", store.ErrVersionConflict, apperrors.CodeConflict, MsgVersionConflict},
		{"json syntax", json.Unmarshal([]byte("{"), &struct{}{}), apperrors.CodeBadRequest, MsgInvalidJSON},
		{"json type", json.Unmarshal([]byte(`{"price":"x"}`), &struct {
			Price float64 `json:"price"`
		}{}), apperrors.CodeCast, "Invalid price: expected number."},
		{"json nested type", json.Unmarshal([]byte(`{"startLocation":{"coordinates":"x"}}`), &struct {
			StartLocation struct {
				Coordinates []float64 `json:"coordinates"`
			} `json:"startLocation"`
		}{}), apperrors.CodeCast, "Invalid startLocation.coordinates: expected array."},
		{"fiber not found", fiber.ErrNotFound, apperrors.CodeNotFound, "Not Found"},
		{"fiber body limit", fiber.ErrRequestEntityTooLarge, apperrors.CodeBadRequest, "Request Entity Too Large"},
		{"unknown", errors.New("boom"), apperrors.CodeInternalError, apperrors.GenericMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := Classify(tt.err)
			assert.Equal(t, tt.code, appErr.Code)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}

	// AppErrors pass through unchanged
	original := apperrors.Forbidden("nope")
	assert.Same(t, original, Classify(fmt.Errorf("wrapped: %w", original)))
}

func newErrorApp(detailed bool, err error) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(detailed, quietLogger(), nil)})
	app.Get("/api/v1/fail", func(c *fiber.Ctx) error { return err })
	return app
}

func decode(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&m))
	return m
}

func TestErrorHandlerMasksProgrammingErrors(t *testing.T) {
	app := newErrorApp(false, errors.New("nil pointer somewhere"))
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	body := decode(t, resp.Body)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, apperrors.GenericMessage, body["message"])
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "code")
}

func TestErrorHandlerOperational(t *testing.T) {
	app := newErrorApp(false, store.ErrNotFound)
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)

	body := decode(t, resp.Body)
	assert.Equal(t, "fail", body["status"])
	assert.Equal(t, MsgDocumentNotFound, body["message"])
}

func TestErrorHandlerSetsRetryAfter(t *testing.T) {
	app := newErrorApp(false, apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "Payment provider is unavailable.", nil))
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, 503, resp.StatusCode)
	assert.Equal(t, retryAfter, resp.Header.Get(fiber.HeaderRetryAfter))

	resp, err = newErrorApp(false, store.ErrVersionConflict).Test(httptest.NewRequest("GET", "/api/v1/fail", nil))
	require.NoError(t, err)
	assert.Equal(t, 409, resp.StatusCode)
	assert.Equal(t, retryAfter, resp.Header.Get(fiber.HeaderRetryAfter))

	resp, err = newErrorApp(false, store.ErrNotFound).Test(httptest.NewRequest("GET", "/api/v1/fail", nil))
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get(fiber.HeaderRetryAfter))
}

func TestErrorHandlerDetailed(t *testing.T) {
	app := newErrorApp(true, errors.New("nil pointer somewhere"))
	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/fail", nil))
	require.NoError(t, err)

	body := decode(t, resp.Body)
	assert.Equal(t, string(apperrors.CodeInternalError), body["code"])
	assert.Contains(t, body["error"], "nil pointer somewhere")
}

type stubPages struct{ title, message string }

func (s *stubPages) RenderError(c *fiber.Ctx, status int, title, message string) error {
	s.title, s.message = title, message
	return c.SendString("page: " + message)
}

func TestErrorHandlerRendersPagesOutsideAPI(t *testing.T) {
	pages := &stubPages{}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(false, quietLogger(), pages)})
	app.Get("/tour/:slug", func(c *fiber.Ctx) error { return apperrors.NotFound("There is no tour with that name.") })
	app.Get("/broken", func(c *fiber.Ctx) error { return errors.New("boom") })

	resp, err := app.Test(httptest.NewRequest("GET", "/tour/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "There is no tour with that name.", pages.message)

	resp, err = app.Test(httptest.NewRequest("GET", "/broken", nil))
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, errorPageGenericText, pages.message)
}

func TestErrorLoggerResolvesStatus(t *testing.T) {
	var seen int
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(false, quietLogger(), nil)})
	app.Use(func(c *fiber.Ctx) error {
		err := c.Next()
		seen = c.Response().StatusCode()
		return err
	})
	app.Use(NewErrorLoggerMiddleware(quietLogger()).Handle())
	app.Get("/api/v1/missing", func(c *fiber.Ctx) error { return store.ErrNotFound })

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, 404, seen)
}

func TestMemoryLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewMemoryLimiter(2, time.Hour)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	ok, remaining, err := l.Take(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, _, _ = l.Take(ctx, "a")
	assert.True(t, ok)
	ok, remaining, _ = l.Take(ctx, "a")
	assert.False(t, ok)
	assert.Zero(t, remaining)

	ok, _, _ = l.Take(ctx, "b")
	assert.True(t, ok, "keys are independent")

	now = now.Add(time.Hour)
	ok, _, _ = l.Take(ctx, "a")
	assert.True(t, ok, "a new window starts")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := &config.RateLimitConfig{Max: 1, Window: time.Hour, Enabled: true, ExemptPaths: []string{"/healthz"}}
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(false, quietLogger(), nil)})
	app.Use(NewRateLimitMiddlewareWithLimiter(cfg, NewMemoryLimiter(cfg.Max, cfg.Window), quietLogger()).Handle())
	app.Get("/api/v1/tours", func(c *fiber.Ctx) error { return c.SendStatus(200) })
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendStatus(200) })

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/tours", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Limit"))

	resp, err = app.Test(httptest.NewRequest("GET", "/api/v1/tours", nil))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, MsgTooManyRequests, decode(t, resp.Body)["message"])

	for i := 0; i < 3; i++ {
		resp, err = app.Test(httptest.NewRequest("GET", "/healthz", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
	}
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("payments", BreakerSettings{MaxFailures: 2, Cooldown: time.Minute, TrialSuccesses: 2}, quietLogger())
	cb.now = func() time.Time { return now }
	ctx := context.Background()
	boom := errors.New("upstream down")
	fail := func(context.Context) error { return boom }
	ok := func(context.Context) error { return nil }

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	}
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Execute(ctx, func(context.Context) error { called = true; return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)

	// a failed trial call reopens
	now = now.Add(time.Minute + time.Second)
	assert.ErrorIs(t, cb.Execute(ctx, fail), boom)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(time.Minute + time.Second)
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(ctx, ok))
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoresCallerCancel(t *testing.T) {
	cb := NewCircuitBreaker("payments", BreakerSettings{MaxFailures: 1}, quietLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func(ctx context.Context) error { return ctx.Err() })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
}

type stubUsers map[string]*models.User

func (s stubUsers) FindUser(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s[id]; ok {
		return u, nil
	}
	return nil, auth.ErrUserNotFound
}

func TestProtectAndRestrictTo(t *testing.T) {
	tokens := auth.NewTokens("secret", time.Hour)
	guide := &models.User{Name: "Guide", Role: models.RoleGuide, Active: true}
	guide.ID = "guide-1"
	mw := NewAuthMiddleware(auth.NewGuard(tokens, stubUsers{"guide-1": guide}), quietLogger())

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(false, quietLogger(), nil)})
	app.Get("/api/v1/me", mw.Protect(), func(c *fiber.Ctx) error { return c.SendString(GetUserID(c)) })
	app.Get("/api/v1/admin", mw.Protect(), RestrictTo(models.RoleAdmin), func(c *fiber.Ctx) error { return c.SendStatus(200) })

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/me", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, auth.MsgNotLoggedIn, decode(t, resp.Body)["message"])

	token, _, err := tokens.Issue("guide-1")
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "guide-1", string(body))

	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Cookie", auth.CookieName+"="+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/v1/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 403, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
	assert.Equal(t, auth.MsgInvalidToken, decode(t, resp.Body)["message"])
}

func TestIdempotencyFingerprint(t *testing.T) {
	m := NewIdempotencyMiddleware(nil, quietLogger())
	var prints []string
	app := fiber.New()
	app.Post("/api/v1/bookings", func(c *fiber.Ctx) error {
		prints = append(prints, m.fingerprint(c))
		return c.SendStatus(fiber.StatusCreated)
	})

	for _, body := range []string{`{"tour":"a"}`, `{"tour":"a"}`, `{"tour":"b"}`} {
		req := httptest.NewRequest("POST", "/api/v1/bookings", strings.NewReader(body))
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	require.Len(t, prints, 3)
	assert.Equal(t, prints[0], prints[1])
	assert.NotEqual(t, prints[0], prints[2])
}

func newIdempotencyApp() (*fiber.App, *int) {
	calls := 0
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(false, quietLogger(), nil)})
	app.Use(NewIdempotencyMiddleware(nil, quietLogger()).Handle())
	app.Post("/api/v1/bookings", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"call": calls, "caller": c.Get(fiber.HeaderAuthorization)})
	})
	return app, &calls
}

func idempotentPost(t *testing.T, app *fiber.App, key, token, body string) (int, map[string]interface{}, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/bookings", strings.NewReader(body))
	req.Header.Set(HeaderIdempotencyKey, key)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode, decode(t, resp.Body), resp.Header.Get("X-Idempotency-Cached")
}

func TestIdempotencyReplaysWithoutRedis(t *testing.T) {
	app, calls := newIdempotencyApp()
	key := "6f1c2b8e-3d4a-4b5c-9e7f-0a1b2c3d4e5f"

	status, body, cached := idempotentPost(t, app, key, "token-a", `{"tour":"a"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, cached)

	status, replay, cached := idempotentPost(t, app, key, "token-a", `{"tour":"a"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "true", cached)
	assert.Equal(t, body, replay)
	assert.Equal(t, 1, *calls)

	status, _, _ = idempotentPost(t, app, key, "token-a", `{"tour":"b"}`)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, 1, *calls)
}

func TestIdempotencyKeysAreScopedPerCaller(t *testing.T) {
	app, calls := newIdempotencyApp()
	key := "6f1c2b8e-3d4a-4b5c-9e7f-0a1b2c3d4e5f"

	_, first, _ := idempotentPost(t, app, key, "token-a", `{"tour":"a"}`)
	assert.Equal(t, "Bearer token-a", first["caller"])

	status, second, cached := idempotentPost(t, app, key, "token-b", `{"tour":"a"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, cached)
	assert.Equal(t, "Bearer token-b", second["caller"])

	// anonymous callers are keyed by address, not by each other's tokens
	status, third, cached := idempotentPost(t, app, key, "", `{"tour":"a"}`)
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Empty(t, cached)
	assert.Equal(t, "", third["caller"])
	assert.Equal(t, 3, *calls)
}

func TestIdempotencyRejectsMalformedKey(t *testing.T) {
	app, calls := newIdempotencyApp()
	status, _, _ := idempotentPost(t, app, "not-a-uuid", "token-a", `{}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, 0, *calls)
}

func TestMemoryResponseCacheExpires(t *testing.T) {
	now := time.Unix(1700000000, 0)
	cache := NewMemoryResponseCache()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", &IdempotencyRecord{StatusCode: 201, Body: "{}"}, time.Minute))
	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, 201, got.StatusCode)

	now = now.Add(time.Minute)
	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, errNoRecord)
}
