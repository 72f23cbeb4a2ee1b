// Package health provides pull-based health checks for the broker transport.
package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/resilmq/resilmq/messaging"
)

// Status describes a check outcome
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one health check
type CheckResult struct {
	Name      string
	Status    Status
	Message   string
	Error     string
	Timestamp time.Time
	Duration  time.Duration
	Details   map[string]interface{}
}

// Checker is a named health check
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// TransportChecker checks broker transport health by probing the logical
// connection and opening a throwaway channel.
type TransportChecker struct {
	transport messaging.Transport
	logger    *slog.Logger
}

// NewTransportChecker creates a new transport health checker
func NewTransportChecker(transport messaging.Transport, logger *slog.Logger) *TransportChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransportChecker{
		transport: transport,
		logger:    logger,
	}
}

func (c *TransportChecker) Name() string {
	return "transport"
}

func (c *TransportChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	result.Details["connection_live"] = c.transport.IsAlive()

	// Opening a channel exercises the whole path, including a lazy reconnect
	ch, err := c.transport.OpenChannel(ctx)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Message = "Failed to open channel"
		result.Error = err.Error()
		result.Duration = time.Since(start)
		return result
	}
	defer ch.Close()

	result.Status = StatusHealthy
	result.Message = "Transport is healthy"
	result.Duration = time.Since(start)
	result.Details["response_time_ms"] = result.Duration.Milliseconds()

	return result
}
