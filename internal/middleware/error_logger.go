package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type ErrorLoggerMiddleware struct {
	logger *logrus.Logger
}

func NewErrorLoggerMiddleware(logger *logrus.Logger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger: logger,
	}
}

// Handle writes handler errors through the app error handler so the final
// status is known here and to outer middleware, then logs 4xx and 5xx
// responses.
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()

		err := c.Next()
		if err != nil {
			if handleErr := c.App().ErrorHandler(c, err); handleErr != nil {
				return handleErr
			}
		}

		statusCode := c.Response().StatusCode()
		if statusCode < 400 {
			return nil
		}

		logFields := logrus.Fields{
			"status_code": statusCode,
			"method":      c.Method(),
			"path":        c.Path(),
			"ip":          clientIP(c),
			"user_agent":  c.Get("User-Agent"),
			"trace_id":    TraceID(c),
			"duration_ms": time.Since(startTime).Milliseconds(),
		}

		if userID := GetUserID(c); userID != "" {
			logFields["user_id"] = userID
		}
		if len(c.Request().URI().QueryString()) > 0 {
			logFields["query"] = string(c.Request().URI().QueryString())
		}

		// request bodies may carry passwords and are never logged
		responseBody := string(c.Response().Body())
		if len(responseBody) > 500 {
			responseBody = responseBody[:500] + "...(truncated)"
		}
		if len(responseBody) > 0 && string(c.Response().Header.ContentType()) == fiber.MIMEApplicationJSON {
			logFields["response_body"] = responseBody
		}

		logEntry := e.logger.WithFields(logFields)
		if statusCode >= 500 {
			if err != nil {
				logEntry = logEntry.WithError(err)
			}
			logEntry.Error("Server error response")
		} else {
			logEntry.Warn("Client error response")
		}

		return nil
	}
}
