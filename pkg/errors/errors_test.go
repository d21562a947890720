package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		httpStatus int
		status     string
	}{
		{CodeValidation, http.StatusBadRequest, "fail"},
		{CodeDuplicateKey, http.StatusBadRequest, "fail"},
		{CodeExpiredCredential, http.StatusUnauthorized, "fail"},
		{CodeForbidden, http.StatusForbidden, "fail"},
		{CodeNotFound, http.StatusNotFound, "fail"},
		{CodeDeliveryFailed, http.StatusInternalServerError, "error"},
		{CodeInternalError, http.StatusInternalServerError, "error"},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError, "error"},
	}

	for _, tt := range tests {
		err := NewAppError(tt.code, "msg", nil)
		assert.Equal(t, tt.httpStatus, err.HTTPStatus(), tt.code)
		assert.Equal(t, tt.status, err.Status(), tt.code)
	}
}

func TestToErrorResponse(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")

	t.Run("operational message is kept", func(t *testing.T) {
		resp := NotFound("No document found with that ID").ToErrorResponse("req-1", false)
		assert.Equal(t, "fail", resp.Status)
		assert.Equal(t, "No document found with that ID", resp.Message)
		assert.Empty(t, resp.Code)
		assert.Empty(t, resp.Error)
		assert.Equal(t, "req-1", resp.TraceID)
	})

	t.Run("programming error is masked", func(t *testing.T) {
		resp := NewAppError(CodeInternalError, "nil map write in tour stats", cause).ToErrorResponse("", false)
		assert.Equal(t, "error", resp.Status)
		assert.Equal(t, GenericMessage, resp.Message)
		assert.NotContains(t, resp.Message, "connection refused")
	})

	t.Run("detailed response carries the chain", func(t *testing.T) {
		resp := NewAppError(CodeInternalError, "nil map write in tour stats", cause).ToErrorResponse("", true)
		assert.Equal(t, CodeInternalError, resp.Code)
		assert.Contains(t, resp.Error, "connection refused")
		assert.Equal(t, "nil map write in tour stats", resp.Message)
	})
}

func TestAs(t *testing.T) {
	base := Forbidden("You do not have permission to perform this action")
	wrapped := fmt.Errorf("restrict: %w", base)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, base, got)
	assert.True(t, HasCode(wrapped, CodeForbidden))
	assert.False(t, HasCode(fmt.Errorf("plain"), CodeForbidden))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, NewAppError(CodeUpstreamTimeout, "timed out", nil).IsRetryable())
	assert.True(t, NewAppError(CodeConflict, "changed", nil).IsRetryable())
	assert.False(t, Forbidden("nope").IsRetryable())
	assert.False(t, NewAppError(CodeInternalError, "boom", nil).IsRetryable())
}
