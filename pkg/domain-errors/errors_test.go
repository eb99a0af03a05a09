package domainerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodes(t *testing.T) {
	t.Run("wrapped error keeps code and cause", func(t *testing.T) {
		cause := errors.New("db down")
		err := Wrap(cause, CodeInternal, "failed to load item")

		assert.True(t, HasCode(err, CodeInternal))
		assert.ErrorIs(t, err, cause)
		assert.Equal(t, "failed to load item", MessageOf(err))
	})

	t.Run("code survives fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", New(CodeQuorumNotMet, "quorum not met"))

		assert.True(t, Is(err, CodeQuorumNotMet))
		assert.Equal(t, CodeQuorumNotMet, CodeOf(err))
	})

	t.Run("uncoded error reports internal", func(t *testing.T) {
		err := errors.New("plain")

		assert.False(t, HasCode(err, CodeNotFound))
		assert.Equal(t, CodeInternal, CodeOf(err))
		assert.Empty(t, MessageOf(err))
	})
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(New(CodeConflict, "lost race")))
	require.True(t, IsRetryable(New(CodeQuorumNotMet, "2 of 3")))
	require.False(t, IsRetryable(New(CodeInvalidState, "closed")))
	require.False(t, IsRetryable(New(CodeNotEligible, "absent")))
}
