package rabbitmq

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrManagerClosed is returned when the manager was explicitly closed
	ErrManagerClosed = errors.New("rabbitmq: connection manager is closed")

	// ErrConnectionTimeout is returned when a dial attempt exceeds its deadline
	ErrConnectionTimeout = errors.New("rabbitmq: connection timeout")
)

// ConnectionError reports that a connection could not be established. It is
// surfaced to the immediate caller; subsequent calls may attempt again.
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("rabbitmq connection error: %s to %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsRetryable marks connection establishment failures as transient; the
// manager itself never loops, but callers may try again.
func (e *ConnectionError) IsRetryable() bool {
	return true
}

// SanitizeURL strips credentials from a connection URL for logging
func SanitizeURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	scheme := strings.Index(url, "://")
	if scheme < 0 {
		return url[at+1:]
	}
	return url[:scheme+3] + url[at+1:]
}
