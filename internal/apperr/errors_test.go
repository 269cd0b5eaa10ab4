package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorDoesNotRenderCause(t *testing.T) {
	cause := errors.New("dial tcp: api_key=sk-secret-123")
	err := Wrap(CodeAnalysisFailed, MsgAnalysisFailed, cause)

	assert.Equal(t, "ANALYSIS_FAILED: "+MsgAnalysisFailed, err.Error())
	assert.NotContains(t, err.Error(), "sk-secret-123")
	assert.ErrorIs(t, err, cause)
}

func TestAsThroughWrapping(t *testing.T) {
	inner := New(CodeFileTooLarge, "too big")
	wrapped := fmt.Errorf("validate upload: %w", inner)

	got, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeFileTooLarge, got.Code)
	assert.Equal(t, CodeFileTooLarge, CodeOf(wrapped))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))
	assert.True(t, errors.Is(wrapped, New(CodeFileTooLarge, "")))
}

func TestStatusOf(t *testing.T) {
	cases := map[Code]int{
		CodeFileRequired:         http.StatusBadRequest,
		CodeFileTooLarge:         http.StatusRequestEntityTooLarge,
		CodeUnsupportedMediaType: http.StatusUnsupportedMediaType,
		CodeImageReadFailed:      http.StatusUnprocessableEntity,
		CodePreprocessingFailed:  http.StatusInternalServerError,
		CodeUnsupportedFormat:    http.StatusUnsupportedMediaType,
		CodeServiceUnavailable:   http.StatusServiceUnavailable,
		CodeInvalidResponse:      http.StatusBadGateway,
		CodeNotFound:             http.StatusNotFound,
		Code("SOMETHING_ELSE"):   http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, StatusOf(code), code)
	}
}
