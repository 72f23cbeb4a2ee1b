package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/resilmq/resilmq/contracts"
	"github.com/resilmq/resilmq/internal/rabbitmq"
	"github.com/resilmq/resilmq/messaging"
)

// ErrConfirmsNotEnabled is returned when WaitForConfirm is called before
// ConfirmSelect.
var ErrConfirmsNotEnabled = errors.New("rabbitmq: channel not in confirm mode")

// Transport implements messaging.Transport for RabbitMQ
type Transport struct {
	manager *rabbitmq.ConnectionManager
}

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectionOptions []rabbitmq.ConnectionOption
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectionOptions sets connection manager options
func WithConnectionOptions(opts ...rabbitmq.ConnectionOption) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectionOptions = append(cfg.ConnectionOptions, opts...)
	}
}

// NewTransport creates a RabbitMQ transport from a connection descriptor.
// The logical connection is established lazily on first use.
func NewTransport(desc contracts.ConnectionDescriptor, options ...TransportOption) *Transport {
	cfg := &TransportConfig{}
	for _, opt := range options {
		opt(cfg)
	}

	return &Transport{
		manager: rabbitmq.NewConnectionManager(desc.URL(), cfg.ConnectionOptions...),
	}
}

// Connect eagerly establishes the logical connection
func (t *Transport) Connect(ctx context.Context) error {
	return t.manager.Connect(ctx)
}

// IsAlive reports whether the logical connection is live
func (t *Transport) IsAlive() bool {
	return t.manager.IsConnected()
}

// Close closes the transport
func (t *Transport) Close() error {
	return t.manager.Close()
}

// OpenChannel opens a fresh channel on the current connection, dialing a new
// connection first if the previous one was lost
func (t *Transport) OpenChannel(ctx context.Context) (messaging.TransportChannel, error) {
	conn, err := t.manager.GetConnection(ctx)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, &contracts.TransportError{
			Op:        "open channel",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	closed := make(chan error, 1)
	notify := ch.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if amqpErr, ok := <-notify; ok && amqpErr != nil {
			closed <- amqpErr
		}
		close(closed)
	}()

	return &channel{ch: ch, closed: closed}, nil
}

// channel adapts *amqp.Channel to messaging.TransportChannel. One channel
// serves exactly one publish or one consumer subscription.
type channel struct {
	ch     *amqp.Channel
	closed chan error

	confirms chan amqp.Confirmation
	returns  chan amqp.Return

	// destination of the last publish, reported in rejection errors
	lastExchange   string
	lastRoutingKey string
}

// Publish implements messaging.TransportChannel
func (c *channel) Publish(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error {
	pub := amqp.Publishing{
		ContentType:     msg.Properties.ContentType,
		ContentEncoding: msg.Properties.ContentEncoding,
		MessageId:       msg.Properties.MessageID,
		CorrelationId:   msg.Properties.CorrelationID,
		Timestamp:       msg.Properties.Timestamp,
		DeliveryMode:    msg.Properties.DeliveryMode,
		Body:            msg.Body,
	}

	if len(msg.Properties.Headers) > 0 {
		pub.Headers = make(amqp.Table, len(msg.Properties.Headers))
		for k, v := range msg.Properties.Headers {
			pub.Headers[k] = v
		}
	}

	err := c.ch.PublishWithContext(ctx, msg.Exchange, msg.RoutingKey, opts.Mandatory, opts.Immediate, pub)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &contracts.TransportError{
			Op:        "publish",
			Err:       err,
			Timestamp: time.Now(),
		}
	}

	c.lastExchange = msg.Exchange
	c.lastRoutingKey = msg.RoutingKey
	return nil
}

// ConfirmSelect implements messaging.TransportChannel
func (c *channel) ConfirmSelect() error {
	if err := c.ch.Confirm(false); err != nil {
		return &contracts.TransportError{
			Op:        "confirm select",
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	c.confirms = c.ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	c.returns = c.ch.NotifyReturn(make(chan amqp.Return, 1))
	return nil
}

// WaitForConfirm implements messaging.TransportChannel
func (c *channel) WaitForConfirm(ctx context.Context) error {
	if c.confirms == nil {
		return ErrConfirmsNotEnabled
	}

	select {
	case confirm, ok := <-c.confirms:
		if !ok {
			return &contracts.TransportError{
				Op:        "wait for confirm",
				Err:       contracts.ErrChannelClosed,
				Timestamp: time.Now(),
			}
		}
		if !confirm.Ack {
			return &contracts.NackError{
				Exchange:   c.lastExchange,
				RoutingKey: c.lastRoutingKey,
				Timestamp:  time.Now(),
			}
		}
		return nil

	case ret := <-c.returns:
		return &contracts.NackError{
			Exchange:   ret.Exchange,
			RoutingKey: ret.RoutingKey,
			Reason:     fmt.Sprintf("returned: %s", ret.ReplyText),
			Timestamp:  time.Now(),
		}

	case err, ok := <-c.closed:
		if !ok || err == nil {
			err = contracts.ErrChannelClosed
		}
		return &contracts.TransportError{
			Op:        "wait for confirm",
			Err:       err,
			Timestamp: time.Now(),
		}

	case <-ctx.Done():
		return ctx.Err()
	}
}

// TxSelect implements messaging.TransportChannel
func (c *channel) TxSelect() error {
	if err := c.ch.Tx(); err != nil {
		return &contracts.TransportError{Op: "tx select", Err: err, Timestamp: time.Now()}
	}
	return nil
}

// TxCommit implements messaging.TransportChannel
func (c *channel) TxCommit() error {
	if err := c.ch.TxCommit(); err != nil {
		return &contracts.TransportError{Op: "tx commit", Err: err, Timestamp: time.Now()}
	}
	return nil
}

// TxRollback implements messaging.TransportChannel
func (c *channel) TxRollback() error {
	if err := c.ch.TxRollback(); err != nil {
		return &contracts.TransportError{Op: "tx rollback", Err: err, Timestamp: time.Now()}
	}
	return nil
}

// Consume implements messaging.TransportChannel
func (c *channel) Consume(ctx context.Context, queue string, opts messaging.ConsumeOptions) (<-chan messaging.TransportDelivery, error) {
	if opts.Prefetch > 0 {
		if err := c.ch.Qos(opts.Prefetch, 0, false); err != nil {
			return nil, &contracts.TransportError{Op: "qos", Err: err, Timestamp: time.Now()}
		}
	}

	deliveries, err := c.ch.Consume(
		queue,
		opts.Tag,
		opts.AutoAck,
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return nil, &contracts.TransportError{Op: "consume", Err: err, Timestamp: time.Now()}
	}

	out := make(chan messaging.TransportDelivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- &delivery{d: d}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// NotifyClose implements messaging.TransportChannel
func (c *channel) NotifyClose() <-chan error {
	return c.closed
}

// Close implements messaging.TransportChannel
func (c *channel) Close() error {
	err := c.ch.Close()
	if err != nil && !errors.Is(err, amqp.ErrClosed) {
		return err
	}
	return nil
}

// delivery adapts amqp.Delivery to messaging.TransportDelivery
type delivery struct {
	d amqp.Delivery
}

func (d *delivery) Body() []byte {
	return d.d.Body
}

func (d *delivery) Headers() map[string]interface{} {
	headers := make(map[string]interface{}, len(d.d.Headers))
	for k, v := range d.d.Headers {
		headers[k] = v
	}
	return headers
}

func (d *delivery) RoutingKey() string {
	return d.d.RoutingKey
}

func (d *delivery) Redelivered() bool {
	return d.d.Redelivered
}

func (d *delivery) Ack() error {
	return d.d.Ack(false)
}

func (d *delivery) Nack(requeue bool) error {
	return d.d.Nack(false, requeue)
}
