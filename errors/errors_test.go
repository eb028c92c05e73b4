package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(99), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, tt.class.String())
	}
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "Adapter", "Challenge", "credential exchange")

	require.Error(t, err)
	assert.Equal(t, "Adapter.Challenge: credential exchange failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))
}

func TestWrap_NilPassesThrough(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTransient(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapFatal(nil, "c", "m", "a"))
}

func TestClassifiedWrappers(t *testing.T) {
	base := stderrors.New("boom")

	tests := []struct {
		name  string
		wrap  func(error, string, string, string) error
		class ErrorClass
	}{
		{"transient", WrapTransient, ErrorTransient},
		{"invalid", WrapInvalid, ErrorInvalid},
		{"fatal", WrapFatal, ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.wrap(base, "Bus", "Send", "deliver")

			var ce *ClassifiedError
			require.True(t, stderrors.As(err, &ce))
			assert.Equal(t, tt.class, ce.Class)
			assert.Equal(t, "Bus", ce.Component)
			assert.True(t, stderrors.Is(err, base))
		})
	}
}

func TestClassify_Sentinels(t *testing.T) {
	assert.Equal(t, ErrorFatal, Classify(ErrMissingLoginConfig))
	assert.Equal(t, ErrorFatal, Classify(ErrInvalidConfig))
	assert.Equal(t, ErrorInvalid, Classify(ErrMissingPart))
	assert.Equal(t, ErrorInvalid, Classify(ErrMalformedCredential))
	assert.Equal(t, ErrorTransient, Classify(ErrQueueFull))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("anything else")))
}

func TestClassify_WrappedSentinel(t *testing.T) {
	err := fmt.Errorf("loading users: %w", ErrMissingLoginConfig)
	assert.True(t, IsFatal(err))
	assert.Equal(t, ErrorFatal, Classify(err))
}

func TestIsHelpers_NilError(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsFatal(nil))
	assert.False(t, IsInvalid(nil))
}
