package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConnected is returned when no live connection is available
	ErrNotConnected = errors.New("resilmq: not connected")

	// ErrPublishInterrupted is returned when a publish is cancelled while
	// waiting on the broker, distinguishing interruption from exhausted
	// retries.
	ErrPublishInterrupted = errors.New("resilmq: publish interrupted")

	// ErrRetriesExhausted is returned when a confirmed publish fails on
	// every allowed attempt.
	ErrRetriesExhausted = errors.New("resilmq: publish retries exhausted")

	// ErrChannelClosed is returned when an operation is attempted on a
	// closed channel.
	ErrChannelClosed = errors.New("resilmq: channel is closed")
)

// TransportError represents a transient broker or network failure. It is
// retryable by the confirmed strategy and surfaced unretried by the
// best-effort and transactional strategies.
type TransportError struct {
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("resilmq transport error: %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable marks transport errors as transient
func (e *TransportError) IsRetryable() bool {
	return true
}

// NackError represents a broker's explicit refusal of a confirmed message.
// It is terminal for that message and is never retried.
type NackError struct {
	Exchange   string
	RoutingKey string
	Reason     string
	Timestamp  time.Time
}

func (e *NackError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("resilmq: broker rejected message on %s/%s: %s", e.Exchange, e.RoutingKey, e.Reason)
	}
	return fmt.Sprintf("resilmq: broker rejected message on %s/%s", e.Exchange, e.RoutingKey)
}

// IsRetryable marks broker rejections as terminal
func (e *NackError) IsRetryable() bool {
	return false
}

// PublishError wraps the failure of a publish operation with its destination
type PublishError struct {
	Exchange   string
	RoutingKey string
	Attempts   int
	Err        error
	Timestamp  time.Time
}

func (e *PublishError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("resilmq publish error: %s/%s failed after %d attempts: %v",
			e.Exchange, e.RoutingKey, e.Attempts, e.Err)
	}
	return fmt.Sprintf("resilmq publish error: %s/%s failed: %v", e.Exchange, e.RoutingKey, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// IsRetryable determines whether an error may be retried. Errors carrying
// their own classification are trusted; context cancellation and broker
// rejections are terminal; unknown errors default to retryable, matching
// how transient socket failures surface from the transport.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	type retryable interface {
		IsRetryable() bool
	}

	var r retryable
	if errors.As(err, &r) {
		return r.IsRetryable()
	}

	switch {
	case errors.Is(err, ErrPublishInterrupted):
		return false
	case errors.Is(err, ErrRetriesExhausted):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}

	return true
}
