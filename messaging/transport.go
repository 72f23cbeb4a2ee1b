package messaging

import (
	"context"

	"github.com/resilmq/resilmq/contracts"
)

// Transport is the capability obtained from the broker client. The core only
// requires it to open channels on the underlying logical connection and to
// answer whether that connection is alive.
type Transport interface {
	// OpenChannel opens a fresh channel on the current logical connection,
	// establishing the connection first if necessary
	OpenChannel(ctx context.Context) (TransportChannel, error)

	// IsAlive reports whether the logical connection is currently live
	IsAlive() bool

	// Connect eagerly establishes the logical connection
	Connect(ctx context.Context) error

	// Close closes the transport and its logical connection
	Close() error
}

// TransportChannel is a short-lived, single-purpose handle opened for one
// publish or one consumer subscription. It is never shared between unrelated
// operations and must be closed by the operation that opened it.
type TransportChannel interface {
	// Publish sends a message on the channel
	Publish(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error

	// ConfirmSelect puts the channel into broker-confirmation mode
	ConfirmSelect() error

	// WaitForConfirm blocks until the broker confirms the last published
	// message. A broker rejection surfaces as *contracts.NackError; context
	// cancellation returns the context error.
	WaitForConfirm(ctx context.Context) error

	// TxSelect puts the channel into transactional mode
	TxSelect() error

	// TxCommit commits the messages published since TxSelect or the last
	// commit or rollback
	TxCommit() error

	// TxRollback discards the messages published since TxSelect or the last
	// commit or rollback
	TxRollback() error

	// Consume begins delivering messages from the queue. The returned
	// channel is closed when the subscription ends for any reason.
	Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan TransportDelivery, error)

	// NotifyClose returns a channel that receives the close reason when the
	// transport reports this channel or its connection closed, then closes
	NotifyClose() <-chan error

	// Close releases the channel
	Close() error
}

// TransportDelivery represents one message delivered by the broker
type TransportDelivery interface {
	// Body returns the message body
	Body() []byte

	// Headers returns message headers
	Headers() map[string]interface{}

	// RoutingKey returns the routing key the message was published with
	RoutingKey() string

	// Redelivered reports whether the broker has delivered this message before
	Redelivered() bool

	// Ack acknowledges the message
	Ack() error

	// Nack rejects the message with optional requeue
	Nack(requeue bool) error
}

// ConsumeOptions configures one consumer subscription
type ConsumeOptions struct {
	AutoAck  bool
	Prefetch int
	Tag      string
}

// DeliveryHandler is the application callback invoked for each delivery.
// Under ManualAck the handler owns acknowledgment; an error return leaves
// the message unacknowledged.
type DeliveryHandler func(ctx context.Context, delivery TransportDelivery) error
