package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors_AreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound, ErrConflict, ErrInvalidInput, ErrUnauthorized,
		ErrForbidden, ErrInternal, ErrServiceUnavail, ErrRateLimited,
	}

	for i := 0; i < len(sentinels); i++ {
		for j := i + 1; j < len(sentinels); j++ {
			assert.NotEqual(t, sentinels[i], sentinels[j],
				"sentinels %d and %d should be distinct", i, j)
		}
	}
}

func TestAppError_ErrorString(t *testing.T) {
	withCause := &AppError{Code: "INTERNAL_ERROR", Message: "store failed", Err: fmt.Errorf("db connection lost")}
	assert.Contains(t, withCause.Error(), "INTERNAL_ERROR")
	assert.Contains(t, withCause.Error(), "db connection lost")

	bare := &AppError{Code: "NOT_FOUND", Message: "review not found"}
	assert.Equal(t, "NOT_FOUND: review not found", bare.Error())
	assert.Nil(t, bare.Unwrap())
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		code     string
		status   int
		sentinel error
	}{
		{"not found", NotFound("review", "42"), "NOT_FOUND", http.StatusNotFound, ErrNotFound},
		{"conflict", Conflict("already reviewed"), "CONFLICT", http.StatusConflict, ErrConflict},
		{"invalid input", InvalidInput("rating is required"), "INVALID_INPUT", http.StatusBadRequest, ErrInvalidInput},
		{"unauthorized", Unauthorized("missing identity"), "UNAUTHORIZED", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", Forbidden("not the author"), "FORBIDDEN", http.StatusForbidden, ErrForbidden},
		{"unavailable", ServiceUnavailable("catalog down"), "SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, ErrServiceUnavail},
		{"rate limited", RateLimited("slow down"), "RATE_LIMITED", http.StatusTooManyRequests, ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.status, tt.err.Status)
			assert.True(t, errors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestNotFound_Message(t *testing.T) {
	err := NotFound("product", "atlas-rug")
	assert.Equal(t, "product with id atlas-rug not found", err.Message)
}

func TestInternal_KeepsCause(t *testing.T) {
	err := Internal(fmt.Errorf("segfault"))
	assert.Equal(t, "INTERNAL_ERROR", err.Code)
	assert.Contains(t, err.Error(), "segfault")
}

func TestHTTPStatus_SentinelErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrUnauthorized, http.StatusUnauthorized},
		{ErrForbidden, http.StatusForbidden},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrServiceUnavail, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestHTTPStatus_Wrapped(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("outer: %w", ErrNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(fmt.Errorf("insert: %w", Conflict("dup"))))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(fmt.Errorf("unknown")))
}
