package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name     string
		err      error
		fatal    bool
		exitCode int
	}{
		{"configuration", ErrConfiguration.WithCause(cause), true, ExitConfiguration},
		{"missing destination", ErrMissingDestination.WithDetail("destination", "orders"), true, ExitMissingDestination},
		{"subscription", ErrSubscription.WithCause(cause), true, ExitSubscription},
		{"connection", ErrConnection.WithCause(cause), true, ExitConnection},
		{"bind", ErrBind.WithCause(cause), false, ExitInternal},
		{"decode", ErrDecode.WithCause(cause), false, ExitInternal},
		{"filter", ErrFilter.WithCause(cause), false, ExitInternal},
		{"foreign", cause, true, ExitInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.fatal, IsFatal(tt.err))
			assert.Equal(t, tt.exitCode, ExitCode(tt.err))
		})
	}
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("startup: %w", ErrMissingDestination.WithMessage("exchange 'orders' not found"))

	assert.True(t, stderrors.Is(err, ErrMissingDestination))
	assert.False(t, stderrors.Is(err, ErrSubscription))
	assert.True(t, IsMissingDestination(err))
	assert.Equal(t, "MISSING_DESTINATION", Code(err))
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrDecode.WithDetail("routing_key", "a.b")
	assert.Empty(t, ErrDecode.Details)
}

func TestErrorMessage(t *testing.T) {
	err := ErrDecode.WithCause(stderrors.New("unexpected EOF"))
	assert.Equal(t, "DECODE_ERROR: failed to decode message (caused by: unexpected EOF)", err.Error())
	assert.Equal(t, "CONFIGURATION_ERROR: bad filter", ErrConfiguration.WithMessage("bad filter").Error())
}

func TestRecoverPanic(t *testing.T) {
	assert.Nil(t, RecoverPanic(nil))

	err := RecoverPanic("nil map write")
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	var appErr *Error
	require.True(t, stderrors.As(err, &appErr))
	assert.Equal(t, true, appErr.Details["panic"])
	assert.NotEmpty(t, appErr.Details["stack_trace"])
	assert.Contains(t, err.Error(), "panic: nil map write")
}
