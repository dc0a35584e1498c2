package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(99).String())
}

func TestWrap_FormatsContext(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Queue", "Admit", "insert message")
	require.Error(t, err)
	assert.Equal(t, "Queue.Admit: insert message failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "Queue", "Admit", "insert"))
	assert.NoError(t, WrapTransient(nil, "Queue", "Admit", "insert"))
	assert.NoError(t, WrapFatal(nil, "Queue", "Admit", "insert"))
	assert.NoError(t, WrapInvalid(nil, "Queue", "Admit", "insert"))
}

func TestClassifiedError_Unwrap(t *testing.T) {
	base := stderrors.New("boom")
	err := WrapTransient(base, "Conn", "Connect", "dial")

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, ErrorTransient, ce.Class)
	assert.Equal(t, "Conn", ce.Component)
	assert.True(t, stderrors.Is(err, base))
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified transient", WrapTransient(stderrors.New("x"), "c", "m", "a"), true},
		{"classified fatal", WrapFatal(stderrors.New("x"), "c", "m", "a"), false},
		{"sentinel not connected", ErrNotConnected, true},
		{"sentinel ack timeout", ErrAckTimeout, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped connection lost", fmt.Errorf("send: %w", ErrConnectionLost), true},
		{"pattern match", stderrors.New("server temporary unavailable"), true},
		{"unrelated", stderrors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrAuthFailed))
	assert.True(t, IsFatal(ErrReconnectExhausted))
	assert.True(t, IsFatal(WrapFatal(stderrors.New("x"), "c", "m", "a")))
	assert.True(t, IsFatal(stderrors.New("nats: authorization violation")))
	assert.False(t, IsFatal(ErrNotConnected))
	assert.False(t, IsFatal(nil))
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrDuplicateMessage))
	assert.True(t, IsInvalid(ErrInvalidMessage))
	assert.True(t, IsInvalid(WrapInvalid(stderrors.New("x"), "c", "m", "a")))
	assert.False(t, IsInvalid(ErrConnectionLost))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrAuthFailed))
	assert.Equal(t, ErrorInvalid, Classify(ErrDuplicateMessage))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	// Unknown errors default to transient so callers may retry
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("boom")))
	assert.Equal(t, ErrorTransient, Classify(nil))
}
