package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/resilmq/resilmq/contracts"
)

// ReliabilityMode selects the publish behavior applied to every message
type ReliabilityMode int

const (
	// BestEffort publishes and returns without awaiting acknowledgment.
	// Transport failures on the publish call surface unretried.
	BestEffort ReliabilityMode = iota

	// Confirmed blocks until the broker confirms each message, retrying
	// transient failures on a fresh channel up to a bounded number of
	// attempts. At-least-once.
	Confirmed

	// Transactional publishes a whole call's messages in one broker
	// transaction: all are committed or none are visible to consumers.
	Transactional
)

func (m ReliabilityMode) String() string {
	switch m {
	case BestEffort:
		return "best-effort"
	case Confirmed:
		return "confirmed"
	case Transactional:
		return "transactional"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// DefaultConfirmAttempts bounds confirmed-publish retries
const DefaultConfirmAttempts = 3

// ErrNoMessages is returned when a batch publish is called with an empty batch
var ErrNoMessages = errors.New("messaging: no messages to publish")

// Publisher sends messages under a reliability mode fixed at construction.
// Use PublishWithMode when the reliability requirement is only known at the
// call site.
type Publisher struct {
	transport       Transport
	mode            ReliabilityMode
	confirmAttempts int
	logger          *slog.Logger
}

// PublisherOption configures the publisher
type PublisherOption func(*Publisher)

// WithMode sets the publisher's reliability mode
func WithMode(mode ReliabilityMode) PublisherOption {
	return func(p *Publisher) {
		p.mode = mode
	}
}

// WithConfirmAttempts sets the retry bound for confirmed publishing
func WithConfirmAttempts(attempts int) PublisherOption {
	return func(p *Publisher) {
		if attempts > 0 {
			p.confirmAttempts = attempts
		}
	}
}

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// NewPublisher creates a publisher over the given transport
func NewPublisher(transport Transport, options ...PublisherOption) *Publisher {
	p := &Publisher{
		transport:       transport,
		mode:            BestEffort,
		confirmAttempts: DefaultConfirmAttempts,
		logger:          slog.Default(),
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Mode returns the reliability mode fixed at construction
func (p *Publisher) Mode() ReliabilityMode {
	return p.mode
}

// Publish sends one message under the publisher's mode
func (p *Publisher) Publish(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error {
	return p.publish(ctx, p.mode, []contracts.Message{msg}, opts)
}

// PublishBatch sends a batch of messages under the publisher's mode. For
// best-effort and confirmed modes each message is sent independently and the
// batch stops at the first failure, so earlier messages may already have been
// accepted. Transactional batches are all-or-nothing.
func (p *Publisher) PublishBatch(ctx context.Context, msgs []contracts.Message, opts contracts.DeliveryOptions) error {
	return p.publish(ctx, p.mode, msgs, opts)
}

// PublishWithMode sends messages under a mode chosen per call site
func (p *Publisher) PublishWithMode(ctx context.Context, mode ReliabilityMode, msgs []contracts.Message, opts contracts.DeliveryOptions) error {
	return p.publish(ctx, mode, msgs, opts)
}

// publish is the shared template: acquire a fresh channel, apply the mode's
// setup, send, then run the mode's completion protocol.
func (p *Publisher) publish(ctx context.Context, mode ReliabilityMode, msgs []contracts.Message, opts contracts.DeliveryOptions) error {
	if len(msgs) == 0 {
		return ErrNoMessages
	}

	switch mode {
	case BestEffort:
		for _, msg := range msgs {
			if err := p.publishBestEffort(ctx, msg, opts); err != nil {
				return err
			}
		}
		return nil

	case Confirmed:
		for _, msg := range msgs {
			if err := p.publishConfirmed(ctx, msg, opts); err != nil {
				return err
			}
		}
		return nil

	case Transactional:
		return p.publishTransactional(ctx, msgs, opts)

	default:
		return fmt.Errorf("messaging: unsupported reliability mode %v", mode)
	}
}

func (p *Publisher) publishBestEffort(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error {
	ch, err := p.transport.OpenChannel(ctx)
	if err != nil {
		return p.wrapPublishErr(msg, 1, err)
	}
	defer ch.Close()

	if err := ch.Publish(ctx, msg, opts); err != nil {
		return p.wrapPublishErr(msg, 1, err)
	}
	return nil
}

func (p *Publisher) publishConfirmed(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error {
	var lastErr error

	for attempt := 1; attempt <= p.confirmAttempts; attempt++ {
		if attempt > 1 {
			p.logger.Info("retrying publish",
				"attempt", attempt,
				"exchange", msg.Exchange,
				"routingKey", msg.RoutingKey)
		}

		err := p.attemptConfirmed(ctx, msg, opts)
		if err == nil {
			return nil
		}

		// Interruption abandons retries and surfaces a distinct outcome
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("publish interrupted while waiting for confirm",
				"exchange", msg.Exchange,
				"routingKey", msg.RoutingKey,
				"attempt", attempt)
			return p.wrapPublishErr(msg, attempt, fmt.Errorf("%w: %w", contracts.ErrPublishInterrupted, err))
		}

		// A broker rejection is terminal for this message
		if !contracts.IsRetryable(err) {
			return p.wrapPublishErr(msg, attempt, err)
		}

		lastErr = err
	}

	return p.wrapPublishErr(msg, p.confirmAttempts, fmt.Errorf("%w: %w", contracts.ErrRetriesExhausted, lastErr))
}

// attemptConfirmed performs one confirmed attempt on a fresh channel. A
// failed channel cannot be reused, so every retry re-acquires and re-marks
// its own channel.
func (p *Publisher) attemptConfirmed(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error {
	ch, err := p.transport.OpenChannel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.ConfirmSelect(); err != nil {
		return err
	}

	if err := ch.Publish(ctx, msg, opts); err != nil {
		return err
	}

	return ch.WaitForConfirm(ctx)
}

func (p *Publisher) publishTransactional(ctx context.Context, msgs []contracts.Message, opts contracts.DeliveryOptions) error {
	ch, err := p.transport.OpenChannel(ctx)
	if err != nil {
		return p.wrapPublishErr(msgs[0], 1, err)
	}
	defer ch.Close()

	if err := ch.TxSelect(); err != nil {
		return p.wrapPublishErr(msgs[0], 1, err)
	}

	for _, msg := range msgs {
		if err := ch.Publish(ctx, msg, opts); err != nil {
			p.rollback(ch, msg)
			return p.wrapPublishErr(msg, 1, err)
		}
	}

	if err := ch.TxCommit(); err != nil {
		p.rollback(ch, msgs[0])
		return p.wrapPublishErr(msgs[0], 1, err)
	}

	return nil
}

func (p *Publisher) rollback(ch TransportChannel, msg contracts.Message) {
	if err := ch.TxRollback(); err != nil {
		p.logger.Error("transaction rollback failed",
			"exchange", msg.Exchange,
			"routingKey", msg.RoutingKey,
			"error", err)
	}
}

func (p *Publisher) wrapPublishErr(msg contracts.Message, attempts int, err error) error {
	return &contracts.PublishError{
		Exchange:   msg.Exchange,
		RoutingKey: msg.RoutingKey,
		Attempts:   attempts,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
