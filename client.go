// Copyright 2024 Resilmq Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package resilmq is a resilience layer between application code and a
// message broker. It keeps one logical connection alive across transport
// failures, publishes under a selectable reliability contract (best-effort,
// broker-confirmed, or transactional), and supervises long-running consumers
// so their subscriptions reattach automatically after disconnection.
package resilmq

import (
	"context"
	"log/slog"
	"time"

	"github.com/resilmq/resilmq/contracts"
	"github.com/resilmq/resilmq/health"
	"github.com/resilmq/resilmq/internal/rabbitmq"
	"github.com/resilmq/resilmq/messaging"
	rabbitmqTransport "github.com/resilmq/resilmq/transports/rabbitmq"
)

// Client is the main entry point, wiring the RabbitMQ transport, a publisher
// and a consumer supervisor together. The logical connection is established
// lazily on first use; call Connect for an eager warm-up.
type Client struct {
	transport  messaging.Transport
	publisher  *messaging.Publisher
	supervisor *messaging.ConsumerSupervisor
	checker    *health.TransportChecker
	logger     *slog.Logger
}

type clientConfig struct {
	logger          *slog.Logger
	mode            messaging.ReliabilityMode
	confirmAttempts int
	dialTimeout     time.Duration
	reconnectMin    time.Duration
	reconnectMax    time.Duration
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithClientLogger sets the logger used by all components
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithReliabilityMode sets the publisher's reliability mode
func WithReliabilityMode(mode messaging.ReliabilityMode) ClientOption {
	return func(cfg *clientConfig) {
		cfg.mode = mode
	}
}

// WithConfirmAttempts sets the retry bound for confirmed publishing
func WithConfirmAttempts(attempts int) ClientOption {
	return func(cfg *clientConfig) {
		cfg.confirmAttempts = attempts
	}
}

// WithDialTimeout bounds one connection attempt
func WithDialTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialTimeout = timeout
	}
}

// WithConsumerReconnectDelay sets the backoff window for consumer
// reattachment
func WithConsumerReconnectDelay(initial, max time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.reconnectMin = initial
		cfg.reconnectMax = max
	}
}

// NewClient creates a client for the broker described by desc
func NewClient(desc contracts.ConnectionDescriptor, options ...ClientOption) *Client {
	cfg := &clientConfig{
		logger:          slog.Default(),
		mode:            messaging.Confirmed,
		confirmAttempts: messaging.DefaultConfirmAttempts,
		dialTimeout:     30 * time.Second,
		reconnectMin:    time.Second,
		reconnectMax:    30 * time.Second,
	}

	for _, opt := range options {
		opt(cfg)
	}

	transport := rabbitmqTransport.NewTransport(desc,
		rabbitmqTransport.WithConnectionOptions(
			rabbitmq.WithLogger(cfg.logger),
			rabbitmq.WithDialTimeout(cfg.dialTimeout),
		),
	)

	publisher := messaging.NewPublisher(transport,
		messaging.WithMode(cfg.mode),
		messaging.WithConfirmAttempts(cfg.confirmAttempts),
		messaging.WithPublisherLogger(cfg.logger),
	)

	supervisor := messaging.NewConsumerSupervisor(transport,
		messaging.WithSupervisorLogger(cfg.logger),
		messaging.WithReconnectDelay(cfg.reconnectMin, cfg.reconnectMax),
	)

	return &Client{
		transport:  transport,
		publisher:  publisher,
		supervisor: supervisor,
		checker:    health.NewTransportChecker(transport, cfg.logger),
		logger:     cfg.logger,
	}
}

// Connect eagerly establishes the broker connection
func (c *Client) Connect(ctx context.Context) error {
	return c.transport.Connect(ctx)
}

// Publisher returns the client's publisher
func (c *Client) Publisher() *messaging.Publisher {
	return c.publisher
}

// Supervisor returns the client's consumer supervisor
func (c *Client) Supervisor() *messaging.ConsumerSupervisor {
	return c.supervisor
}

// Health probes the transport and returns the result
func (c *Client) Health(ctx context.Context) health.CheckResult {
	return c.checker.Check(ctx)
}

// Close stops all consumers and closes the transport
func (c *Client) Close() error {
	if err := c.supervisor.Close(); err != nil {
		c.logger.Error("failed to stop consumers", "error", err)
	}
	return c.transport.Close()
}
