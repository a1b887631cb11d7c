package rpcerr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromKeepsKind(t *testing.T) {
	base := New(BadRequest, "Invalid address: null")
	wrapped := fmt.Errorf("procedure: %w", base)

	got := From(wrapped)
	assert.Same(t, base, got)
	assert.Equal(t, BadRequest, KindOf(wrapped))
}

func TestFromPlainError(t *testing.T) {
	cause := errors.New("boom")
	got := From(cause)
	assert.Equal(t, InternalServerError, got.Kind)
	assert.Equal(t, "boom", got.Message)
	assert.ErrorIs(t, got, cause)
	assert.Nil(t, From(nil))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestKindMapping(t *testing.T) {
	assert.Equal(t, -32600, BadRequest.Code())
	assert.Equal(t, http.StatusUnauthorized, Unauthorized.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, TooManyRequests.HTTPStatus())
	assert.Equal(t, InternalServerError.Code(), Kind("SOMETHING_ELSE").Code())
	assert.Equal(t, http.StatusInternalServerError, Kind("SOMETHING_ELSE").HTTPStatus())
}

func TestErrorMessageFallsBackToKind(t *testing.T) {
	assert.Equal(t, "UNAUTHORIZED", New(Unauthorized, "").Error())
}
