package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Connection is the subset of the broker client's connection surface the
// manager needs. *amqp.Connection satisfies it.
type Connection interface {
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	Close() error
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
}

// Dialer establishes one broker connection from a URL
type Dialer func(url string) (Connection, error)

func amqpDialer(url string) (Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// ConnectionManager manages the broker connection. The connection is created
// on first use and recreated on the next call after the transport reports it
// closed; it is never patched in place.
type ConnectionManager struct {
	url         string
	dial        Dialer
	dialTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	conn   Connection
	closed bool
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialer replaces the dial function, used by tests and alternative
// transports
func WithDialer(dial Dialer) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dial = dial
	}
}

// WithDialTimeout bounds how long one connection attempt may take
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// NewConnectionManager creates a new connection manager. No connection is
// opened until the first GetConnection call.
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:         url,
		dial:        amqpDialer,
		dialTimeout: 30 * time.Second,
		logger:      slog.Default(),
	}

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// GetConnection returns the current live connection, dialing a new one if
// none exists or the previous one was reported closed. Concurrent callers
// during creation block on the in-flight dial; exactly one connection is
// created per failure episode. Dial failures surface as *ConnectionError and
// the next call may attempt again.
func (cm *ConnectionManager) GetConnection(ctx context.Context) (Connection, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil, ErrManagerClosed
	}

	if cm.conn != nil && !cm.conn.IsClosed() {
		return cm.conn, nil
	}

	return cm.connectLocked(ctx)
}

// Connect eagerly establishes the connection
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	_, err := cm.GetConnection(ctx)
	return err
}

// IsConnected reports whether a live connection is currently held
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.conn != nil && !cm.conn.IsClosed()
}

// Close closes the current connection and rejects further use
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		cm.logger.Info("connection manager closed", "url", SanitizeURL(cm.url))
		return err
	}

	return nil
}

// connectLocked dials a new connection. Caller must hold cm.mu.
func (cm *ConnectionManager) connectLocked(ctx context.Context) (Connection, error) {
	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, cm.dialTimeout)
		defer cancel()
	}

	connChan := make(chan Connection, 1)
	errChan := make(chan error, 1)

	go func() {
		conn, err := cm.dial(cm.url)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- conn
	}()

	select {
	case conn := <-connChan:
		cm.conn = conn
		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		go cm.watchClose(conn, notify)

		cm.logger.Info("connected to broker", "url", SanitizeURL(cm.url))
		return conn, nil

	case err := <-errChan:
		cm.logger.Error("connection failed", "url", SanitizeURL(cm.url), "error", err)
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
		}

	case <-dialCtx.Done():
		// The dial goroutine may still complete; discard its result so the
		// orphaned connection does not leak.
		go func() {
			select {
			case conn := <-connChan:
				conn.Close()
			case <-errChan:
			}
		}()
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       ErrConnectionTimeout,
			Timestamp: time.Now(),
		}
	}
}

// watchClose clears the current handle once the transport reports the
// connection closed, so the next GetConnection performs a fresh dial.
func (cm *ConnectionManager) watchClose(conn Connection, notify chan *amqp.Error) {
	err, ok := <-notify

	cm.mu.Lock()
	if cm.conn == conn {
		cm.conn = nil
	}
	stillOpen := !cm.closed
	cm.mu.Unlock()

	if ok && err != nil && stillOpen {
		cm.logger.Error("connection lost", "url", SanitizeURL(cm.url), "error", err)
	}
}
