package contracts

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransportError(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := &TransportError{Op: "publish", Err: cause, Timestamp: time.Now()}

	assert.Contains(t, err.Error(), "publish")
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
}

func TestNackError(t *testing.T) {
	t.Run("with reason", func(t *testing.T) {
		err := &NackError{Exchange: "orders", RoutingKey: "order.created", Reason: "NO_ROUTE"}

		assert.Contains(t, err.Error(), "orders/order.created")
		assert.Contains(t, err.Error(), "NO_ROUTE")
		assert.False(t, err.IsRetryable())
	})

	t.Run("without reason", func(t *testing.T) {
		err := &NackError{Exchange: "orders", RoutingKey: "order.created"}
		assert.Contains(t, err.Error(), "orders/order.created")
	})
}

func TestPublishError(t *testing.T) {
	t.Run("single attempt", func(t *testing.T) {
		cause := errors.New("channel gone")
		err := &PublishError{Exchange: "orders", RoutingKey: "k", Attempts: 1, Err: cause}

		assert.NotContains(t, err.Error(), "attempts")
		assert.ErrorIs(t, err, cause)
	})

	t.Run("multiple attempts appear in the message", func(t *testing.T) {
		err := &PublishError{
			Exchange:   "orders",
			RoutingKey: "k",
			Attempts:   3,
			Err:        ErrRetriesExhausted,
		}

		assert.Contains(t, err.Error(), "after 3 attempts")
		assert.ErrorIs(t, err, ErrRetriesExhausted)
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"transport error", &TransportError{Op: "publish", Err: errors.New("reset")}, true},
		{"nack", &NackError{Exchange: "e", RoutingKey: "k"}, false},
		{"interrupted", ErrPublishInterrupted, false},
		{"wrapped interrupted", fmt.Errorf("%w: %w", ErrPublishInterrupted, context.Canceled), false},
		{"retries exhausted", ErrRetriesExhausted, false},
		{"context canceled", context.Canceled, false},
		{"deadline exceeded", context.DeadlineExceeded, false},
		{"unknown error defaults to retryable", errors.New("socket hiccup"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}

	t.Run("classification survives wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("while sending: %w", &TransportError{Op: "publish", Err: errors.New("reset")})
		assert.True(t, IsRetryable(wrapped))

		wrapped = fmt.Errorf("while sending: %w", &NackError{Exchange: "e", RoutingKey: "k"})
		assert.False(t, IsRetryable(wrapped))
	})

	t.Run("publish error defers to its cause", func(t *testing.T) {
		err := &PublishError{Exchange: "e", RoutingKey: "k", Attempts: 1,
			Err: &NackError{Exchange: "e", RoutingKey: "k"}}

		require.False(t, IsRetryable(err))
	})
}
