package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorString(t *testing.T) {
	e := NewError(ErrTimeout, "bid collection timed out")
	assert.Equal(t, "[TIMEOUT] bid collection timed out", e.Error())

	cause := errors.New("connection refused")
	e = NewResponderError("critic-1", cause)
	assert.Contains(t, e.Error(), "RESPONDER_ERROR")
	assert.Contains(t, e.Error(), "connection refused")
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestErrorRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout is retryable", NewTimeoutError("respond", time.Second), true},
		{"circuit open is not retryable", NewCircuitOpenError("r1"), false},
		{"budget exceeded is not retryable", NewBudgetExceededError("conversation", 100, 120), false},
		{"responder error is retryable", NewResponderError("r1", errors.New("boom")), true},
		{"malformed message is not retryable", NewMalformedMessageError("bad"), false},
		{"plain error is not retryable", errors.New("plain"), false},
		{"wrapped structured error keeps flag", fmt.Errorf("outer: %w", NewTimeoutError("bid", time.Second)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestGetErrorCode(t *testing.T) {
	assert.Equal(t, ErrNoValidBids, GetErrorCode(NewNoValidBidsError()))
	assert.Equal(t, ErrorCode(""), GetErrorCode(errors.New("plain")))
	assert.True(t, IsCode(fmt.Errorf("wrap: %w", NewCircuitOpenError("x")), ErrCircuitOpen))
}
