package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{NewValidationError("content is required"), http.StatusBadRequest, CodeBadRequest},
		{Unauthorized("token expired"), http.StatusUnauthorized, CodeUnauthorized},
		{ErrForbidden, http.StatusForbidden, CodeForbidden},
		{fmt.Errorf("message m-1: %w", ErrMessageAlreadyExists), http.StatusConflict, CodeConflict},
		{ErrRateLimited, http.StatusTooManyRequests, CodeTooManyRequests},
		{Transient("store message", fmt.Errorf("disk full")), http.StatusInternalServerError, CodeInternalServerError},
		{fmt.Errorf("anything else"), http.StatusInternalServerError, CodeInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, code := Classify(tt.err)
			require.Equal(t, tt.status, status)
			require.Equal(t, tt.code, code)
		})
	}
}

func TestTransient_Keeps_Cause(t *testing.T) {
	req := require.New(t)
	cause := fmt.Errorf("conflict")

	err := Transient("insert connection", cause)

	req.ErrorIs(err, ErrTransient)
	req.ErrorIs(err, cause)
	req.Contains(err.Error(), "insert connection")
}

func TestValidationError_Lists_Details(t *testing.T) {
	req := require.New(t)
	err := NewValidationError("a", "b")

	var validation *ValidationError
	req.True(As(err, &validation))
	req.Equal([]string{"a", "b"}, validation.Details)
	req.Equal("validation failed: a; b", err.Error())
}

func TestIsTerminal(t *testing.T) {
	require.True(t, IsTerminal(fmt.Errorf("post: %w", ErrGone)))
	require.False(t, IsTerminal(Transient("post", fmt.Errorf("timeout"))))
}
