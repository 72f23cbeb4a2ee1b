package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/resilmq/resilmq/internal/reliability"
)

var (
	// ErrConsumerNotFound is returned for operations on an unknown name
	ErrConsumerNotFound = errors.New("messaging: consumer not found")

	// ErrConsumerExists is returned when a registration name is already taken
	ErrConsumerExists = errors.New("messaging: consumer already registered")

	// ErrSupervisorClosed is returned after the supervisor has shut down
	ErrSupervisorClosed = errors.New("messaging: supervisor is closed")
)

// AckMode selects how deliveries are acknowledged for a registration
type AckMode int

const (
	// AutoAck lets the broker consider a message acknowledged on delivery
	AutoAck AckMode = iota

	// ManualAck leaves acknowledgment to the application callback
	ManualAck
)

// ConsumerState describes a registration's lifecycle position
type ConsumerState int32

const (
	// StateStopped means the consumer is not running; terminal once reached
	// by explicit stop or removal
	StateStopped ConsumerState = iota

	// StateStarting means the first attach attempt is in progress
	StateStarting

	// StateRunning means deliveries are flowing to the callback
	StateRunning

	// StateReconnecting means the channel was lost and reattachment is being
	// retried in the background
	StateReconnecting
)

func (s ConsumerState) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ConsumerRegistration describes one named consumer. Its identity is stable
// across reconnections; only the channel underneath it changes.
type ConsumerRegistration struct {
	Name     string
	Queue    string
	AckMode  AckMode
	Prefetch int
	Handler  DeliveryHandler
}

// consumerEntry is the supervised runtime state for one registration
type consumerEntry struct {
	reg   ConsumerRegistration
	tag   string
	state atomic.Int32

	// lifecycle, guarded by lifeMu
	lifeMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	// delivery gate, closed channel while enabled
	gateMu sync.Mutex
	gate   chan struct{}
}

func (e *consumerEntry) setState(s ConsumerState) {
	e.state.Store(int32(s))
}

func (e *consumerEntry) currentState() ConsumerState {
	return ConsumerState(e.state.Load())
}

func (e *consumerEntry) enable() {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	select {
	case <-e.gate:
	default:
		close(e.gate)
	}
}

func (e *consumerEntry) disable() {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	select {
	case <-e.gate:
		e.gate = make(chan struct{})
	default:
	}
}

func (e *consumerEntry) enabled() <-chan struct{} {
	e.gateMu.Lock()
	defer e.gateMu.Unlock()
	return e.gate
}

// ConsumerSupervisor manages named consumer registrations: it starts and
// stops them, watches their channel health, and reattaches subscriptions
// after failures without the application re-registering.
type ConsumerSupervisor struct {
	transport Transport
	logger    *slog.Logger
	policy    reliability.RetryPolicy

	mu      sync.Mutex
	entries map[string]*consumerEntry
	closed  bool
}

// SupervisorOption configures the supervisor
type SupervisorOption func(*ConsumerSupervisor)

// WithSupervisorLogger sets the logger
func WithSupervisorLogger(logger *slog.Logger) SupervisorOption {
	return func(s *ConsumerSupervisor) {
		s.logger = logger
	}
}

// WithReconnectDelay sets the backoff window for consumer reattachment
func WithReconnectDelay(initial, max time.Duration) SupervisorOption {
	return func(s *ConsumerSupervisor) {
		s.policy = &reliability.Forever{
			Schedule: reliability.NewExponentialBackoff(initial, max, 2.0, 0),
		}
	}
}

// NewConsumerSupervisor creates a supervisor over the given transport
func NewConsumerSupervisor(transport Transport, options ...SupervisorOption) *ConsumerSupervisor {
	s := &ConsumerSupervisor{
		transport: transport,
		logger:    slog.Default(),
		policy: &reliability.Forever{
			Schedule: reliability.NewExponentialBackoff(time.Second, 30*time.Second, 2.0, 0),
		},
		entries: make(map[string]*consumerEntry),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// AddConsumer registers a consumer without starting it
func (s *ConsumerSupervisor) AddConsumer(reg ConsumerRegistration) error {
	if reg.Name == "" {
		return fmt.Errorf("messaging: consumer name cannot be empty")
	}
	if reg.Queue == "" {
		return fmt.Errorf("messaging: consumer queue cannot be empty")
	}
	if reg.Handler == nil {
		return fmt.Errorf("messaging: consumer handler cannot be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSupervisorClosed
	}
	if _, exists := s.entries[reg.Name]; exists {
		return fmt.Errorf("%w: %s", ErrConsumerExists, reg.Name)
	}

	e := &consumerEntry{
		reg:  reg,
		tag:  fmt.Sprintf("%s-%s", reg.Name, uuid.New().String()[:8]),
		gate: make(chan struct{}),
	}
	e.setState(StateStopped)
	e.enable()
	s.entries[reg.Name] = e

	s.logger.Info("consumer registered", "name", reg.Name, "queue", reg.Queue)
	return nil
}

// RemoveConsumer stops a consumer if running and destroys its registration
func (s *ConsumerSupervisor) RemoveConsumer(name string) error {
	s.mu.Lock()
	e, ok := s.entries[name]
	if ok {
		delete(s.entries, name)
	}
	s.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrConsumerNotFound, name)
	}

	s.stopEntry(e)
	s.logger.Info("consumer removed", "name", name)
	return nil
}

// StartConsumer starts one registration's supervised delivery task. Starting
// an already running consumer is a no-op.
func (s *ConsumerSupervisor) StartConsumer(name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	s.startEntry(e)
	return nil
}

// StartAllConsumers starts every registration
func (s *ConsumerSupervisor) StartAllConsumers() error {
	for _, e := range s.snapshot() {
		s.startEntry(e)
	}
	return nil
}

// StopConsumer stops a consumer and waits until its supervised task has
// fully terminated, including any in-flight reconnection attempt.
func (s *ConsumerSupervisor) StopConsumer(name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	s.stopEntry(e)
	return nil
}

// StopAllConsumers stops every registration
func (s *ConsumerSupervisor) StopAllConsumers() error {
	var wg sync.WaitGroup
	for _, e := range s.snapshot() {
		wg.Add(1)
		go func(e *consumerEntry) {
			defer wg.Done()
			s.stopEntry(e)
		}(e)
	}
	wg.Wait()
	return nil
}

// EnableConsumer resumes delivery to a previously disabled consumer
func (s *ConsumerSupervisor) EnableConsumer(name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	e.enable()
	s.logger.Info("consumer enabled", "name", name)
	return nil
}

// DisableConsumer pauses delivery without tearing down the registration or
// its subscription; undelivered messages are held by the broker.
func (s *ConsumerSupervisor) DisableConsumer(name string) error {
	e, err := s.entry(name)
	if err != nil {
		return err
	}
	e.disable()
	s.logger.Info("consumer disabled", "name", name)
	return nil
}

// ConsumerState returns a registration's current lifecycle state
func (s *ConsumerSupervisor) ConsumerState(name string) (ConsumerState, error) {
	e, err := s.entry(name)
	if err != nil {
		return StateStopped, err
	}
	return e.currentState(), nil
}

// ConsumerNames returns the names of all registrations
func (s *ConsumerSupervisor) ConsumerNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Close stops all consumers and rejects further registrations
func (s *ConsumerSupervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.StopAllConsumers()
}

func (s *ConsumerSupervisor) entry(name string) (*consumerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrConsumerNotFound, name)
	}
	return e, nil
}

func (s *ConsumerSupervisor) snapshot() []*consumerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]*consumerEntry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	return entries
}

func (s *ConsumerSupervisor) startEntry(e *consumerEntry) {
	e.lifeMu.Lock()
	defer e.lifeMu.Unlock()

	if e.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	e.setState(StateStarting)

	go s.supervise(ctx, e, done)
}

func (s *ConsumerSupervisor) stopEntry(e *consumerEntry) {
	e.lifeMu.Lock()
	cancel := e.cancel
	done := e.done
	e.lifeMu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	s.logger.Info("consumer stopped", "name", e.reg.Name, "queue", e.reg.Queue)
}

// supervise is the per-registration task: it attaches the subscription and,
// whenever the channel is lost, retries the full start sequence under the
// backoff policy. Cancellation is checked at every retry boundary so a stop
// request can never race past an in-flight reconnection attempt. On exit the
// lifecycle fields are released only if this task is still the entry's
// current one, so a task that drained after a restart cannot clobber its
// successor's state.
func (s *ConsumerSupervisor) supervise(ctx context.Context, e *consumerEntry, done chan struct{}) {
	defer func() {
		e.lifeMu.Lock()
		if e.done == done {
			e.cancel = nil
			e.done = nil
			e.setState(StateStopped)
		}
		e.lifeMu.Unlock()
		close(done)
	}()

	for {
		var sess *consumerSession
		err := reliability.Retry(ctx, s.policy, func() error {
			attached, attachErr := s.attach(ctx, e)
			if attachErr != nil {
				e.setState(StateReconnecting)
				s.logger.Warn("consumer attach failed, retrying",
					"name", e.reg.Name,
					"queue", e.reg.Queue,
					"error", attachErr)
				return attachErr
			}
			sess = attached
			return nil
		})
		if err != nil {
			// An indefinite policy only lets cancellation through
			return
		}

		err = s.deliverUntilLost(ctx, e, sess)
		if ctx.Err() != nil {
			return
		}

		// A new episode: the next attach starts the backoff schedule over
		e.setState(StateReconnecting)
		s.logger.Warn("consumer channel lost, reconnecting",
			"name", e.reg.Name,
			"queue", e.reg.Queue,
			"error", err)
	}
}

// consumerSession is one live subscription on one channel
type consumerSession struct {
	ch         TransportChannel
	deliveries <-chan TransportDelivery
	closed     <-chan error
}

// attach opens a fresh channel and subscribes the registration's queue
func (s *ConsumerSupervisor) attach(ctx context.Context, e *consumerEntry) (*consumerSession, error) {
	ch, err := s.transport.OpenChannel(ctx)
	if err != nil {
		return nil, err
	}

	deliveries, err := ch.Consume(ctx, e.reg.Queue, ConsumeOptions{
		AutoAck:  e.reg.AckMode == AutoAck,
		Prefetch: e.reg.Prefetch,
		Tag:      e.tag,
	})
	if err != nil {
		ch.Close()
		return nil, err
	}

	e.setState(StateRunning)
	s.logger.Info("consumer attached", "name", e.reg.Name, "queue", e.reg.Queue, "tag", e.tag)

	return &consumerSession{
		ch:         ch,
		deliveries: deliveries,
		closed:     ch.NotifyClose(),
	}, nil
}

// deliverUntilLost delivers until the channel fails or the context is
// cancelled.
func (s *ConsumerSupervisor) deliverUntilLost(ctx context.Context, e *consumerEntry, sess *consumerSession) error {
	defer sess.ch.Close()

	closed := sess.closed
	deliveries := sess.deliveries

	for {
		// Hold delivery while disabled; the subscription stays open and the
		// broker keeps undelivered messages.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-closed:
			return closeReason(err, ok)
		case <-e.enabled():
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-closed:
			return closeReason(err, ok)
		case d, ok := <-deliveries:
			if !ok {
				return closeReason(nil, false)
			}
			// A disable may have landed after this delivery was taken off
			// the channel; hold it until the consumer is enabled again.
			select {
			case <-ctx.Done():
				return ctx.Err()
			case err, ok := <-closed:
				return closeReason(err, ok)
			case <-e.enabled():
			}
			s.dispatch(ctx, e, d)
		}
	}
}

func closeReason(err error, ok bool) error {
	if ok && err != nil {
		return err
	}
	return errors.New("messaging: consumer channel closed")
}

// dispatch invokes the application callback once per broker delivery. Under
// ManualAck a callback that fails or panics leaves the message
// unacknowledged; the broker redelivers per its own policy.
func (s *ConsumerSupervisor) dispatch(ctx context.Context, e *consumerEntry, d TransportDelivery) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("consumer callback panicked",
				"name", e.reg.Name,
				"queue", e.reg.Queue,
				"panic", r)
		}
	}()

	if err := e.reg.Handler(ctx, d); err != nil {
		s.logger.Error("consumer callback failed",
			"name", e.reg.Name,
			"queue", e.reg.Queue,
			"routingKey", d.RoutingKey(),
			"error", err)
	}
}
