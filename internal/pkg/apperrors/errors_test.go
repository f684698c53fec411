package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewMapsStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, NewInvalidRequest("bad").HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, New(ErrRateLimited, "slow", nil).HTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, New(ErrorType("???"), "x", nil).HTTPStatus)
}

func TestWrapKeepsAppError(t *testing.T) {
	orig := New(ErrNotFound, "missing", nil)
	wrapped := fmt.Errorf("lookup: %w", orig)

	assert.Same(t, orig, Wrap(wrapped))
	assert.Nil(t, Wrap(nil))

	plain := errors.New("boom")
	got := Wrap(plain)
	assert.Equal(t, ErrInternal, got.Type)
	assert.ErrorIs(t, got, plain)
}
