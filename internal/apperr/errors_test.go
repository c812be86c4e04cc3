package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeForbidden:         http.StatusForbidden,
		CodeNotFound:          http.StatusNotFound,
		CodeInsufficientStock: http.StatusBadRequest,
		CodeInvalidState:      http.StatusBadRequest,
		CodeConflict:          http.StatusConflict,
		Code("SOMETHING_ELSE"): http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatus(code), string(code))
	}
}

func TestAsThroughWrapping(t *testing.T) {
	base := NotFound("part %d not found", 7)
	wrapped := fmt.Errorf("placing order: %w", base)

	got := As(wrapped)
	if assert.NotNil(t, got) {
		assert.Equal(t, CodeNotFound, got.Code())
		assert.Equal(t, "part 7 not found", got.Message())
	}
	assert.True(t, Is(wrapped, CodeNotFound))
	assert.False(t, Is(wrapped, CodeConflict))
	assert.Nil(t, As(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(CodeInternal, cause, "could not load order")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "INTERNAL_ERROR: could not load order", err.Error())
}
