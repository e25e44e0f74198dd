package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionatorError_Error(t *testing.T) {
	err := NewError(ErrCodeNotFound, "action \"x\" not registered")
	assert.Equal(t, `[NOT_FOUND] action "x" not registered`, err.Error())

	err = NewErrorf(ErrCodeValidation, "expected %s", "string").WithField("msg")
	assert.Equal(t, "[VALIDATION_ERROR] field msg: expected string", err.Error())
}

func TestActionatorError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrCodeInvocation, "boom").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestIsCode(t *testing.T) {
	base := NewError(ErrCodeQueueFull, "queue is full")
	wrapped := fmt.Errorf("publish: %w", base)

	assert.True(t, IsCode(base, ErrCodeQueueFull))
	assert.True(t, IsCode(wrapped, ErrCodeQueueFull))
	assert.False(t, IsCode(wrapped, ErrCodeNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeQueueFull))
	assert.False(t, IsCode(nil, ErrCodeQueueFull))

	assert.Equal(t, ErrCodeQueueFull, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
}

func TestActionatorError_JSON(t *testing.T) {
	err := NewError(ErrCodeValidation, "bad").
		WithField("msg").
		WithDetails(map[string]any{"violations": []string{"/msg: bad"}}).
		WithCause(errors.New("hidden"))

	data, mErr := json.Marshal(err)
	require.NoError(t, mErr)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "VALIDATION_ERROR", got["code"])
	assert.Equal(t, "msg", got["field"])
	assert.NotContains(t, got, "cause")
}
