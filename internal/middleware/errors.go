package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// retryAfter is sent with upstream failures and version conflicts, in seconds.
const retryAfter = "5"

const (
	MsgDocumentNotFound = "No document found with that ID"
	MsgVersionConflict  = "The document was changed by another request. Please retry."
	MsgInvalidJSON      = "Invalid JSON in request body"
)

// Classify maps any handler error onto the error taxonomy. Errors it does
// not recognise become programming errors.
func Classify(err error) *apperrors.AppError {
	if appErr, ok := apperrors.As(err); ok {
		return appErr
	}

	var (
		castErr   *query.CastError
		dupErr    *store.DuplicateKeyError
		typeErr   *json.UnmarshalTypeError
		syntaxErr *json.SyntaxError
		fiberErr  *fiber.Error
	)
	switch {
	case errors.As(err, &castErr):
		return apperrors.NewAppError(apperrors.CodeCast, castErr.Error(), err)
	case errors.As(err, &dupErr):
		return apperrors.NewAppErrorf(apperrors.CodeDuplicateKey, err,
			"Duplicate field value: %s. Please use another value!", dupErr.Value)
	case errors.Is(err, store.ErrNotFound):
		return apperrors.NewAppError(apperrors.CodeNotFound, MsgDocumentNotFound, err)
	case errors.Is(err, store.ErrVersionConflict):
		return apperrors.NewAppError(apperrors.CodeConflict, MsgVersionConflict, err)
	case errors.As(err, &typeErr):
		return apperrors.NewAppErrorf(apperrors.CodeCast, err,
			"Invalid %s: expected %s.", typeErr.Field, jsonKind(typeErr.Type))
	case errors.As(err, &syntaxErr):
		return apperrors.NewAppError(apperrors.CodeBadRequest, MsgInvalidJSON, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.NewAppError(apperrors.CodeExpiredCredential, auth.MsgExpiredToken, err)
	case isJWTError(err):
		return apperrors.NewAppError(apperrors.CodeInvalidCredential, auth.MsgInvalidToken, err)
	case errors.As(err, &fiberErr):
		return fromFiberError(fiberErr)
	}
	return apperrors.Internal(err)
}

func isJWTError(err error) bool {
	for _, target := range []error{
		jwt.ErrTokenMalformed,
		jwt.ErrTokenSignatureInvalid,
		jwt.ErrTokenUnverifiable,
		jwt.ErrTokenNotValidYet,
		jwt.ErrTokenInvalidClaims,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func fromFiberError(e *fiber.Error) *apperrors.AppError {
	switch e.Code {
	case fiber.StatusNotFound:
		return apperrors.NotFound(e.Message)
	case fiber.StatusUnauthorized:
		return apperrors.Unauthenticated(e.Message)
	case fiber.StatusForbidden:
		return apperrors.Forbidden(e.Message)
	case fiber.StatusTooManyRequests:
		return apperrors.NewAppError(apperrors.CodeRateLimited, MsgTooManyRequests, e)
	case fiber.StatusServiceUnavailable:
		return apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, e.Message, e)
	}
	if e.Code >= 400 && e.Code < 500 {
		return apperrors.BadRequest(e.Message)
	}
	return apperrors.Internal(e)
}

// NotFoundRoute answers every request no route matched.
func NotFoundRoute(c *fiber.Ctx) error {
	return apperrors.NotFound(fmt.Sprintf("Can't find %s on this server!", c.OriginalURL()))
}

// ErrorPageRenderer renders the HTML error page for browser requests.
type ErrorPageRenderer interface {
	RenderError(c *fiber.Ctx, status int, title, message string) error
}

const (
	errorPageTitle       = "Something went wrong!"
	errorPageGenericText = "Please try again later."
)

// ErrorHandler writes the response for a classified error. API requests
// get JSON; others get the error page when a renderer is set. detailed
// responses include the code and the full error chain.
func ErrorHandler(detailed bool, logger *logrus.Logger, pages ErrorPageRenderer) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		appErr := Classify(err)
		status := appErr.HTTPStatus()
		traceID := TraceID(c)

		if !appErr.IsOperational() {
			logger.WithError(err).WithFields(logrus.Fields{
				"method":   c.Method(),
				"path":     c.Path(),
				"trace_id": traceID,
			}).Error("Unhandled error")
		}

		if appErr.IsRetryable() {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
		}

		if pages == nil || strings.HasPrefix(c.Path(), "/api") {
			return c.Status(status).JSON(appErr.ToErrorResponse(traceID, detailed))
		}

		message := appErr.Message
		if !appErr.IsOperational() && !detailed {
			message = errorPageGenericText
		}
		c.Status(status)
		if renderErr := pages.RenderError(c, status, errorPageTitle, message); renderErr != nil {
			logger.WithError(renderErr).Error("Failed to render error page")
			return c.Status(http.StatusInternalServerError).SendString(errorPageTitle)
		}
		return nil
	}
}

// jsonKind names the JSON value a Go type decodes from.
func jsonKind(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return "array"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Ptr:
		return jsonKind(t.Elem())
	}
	return t.String()
}
