package messaging

import (
	"context"
	"sync"

	"github.com/resilmq/resilmq/contracts"
)

// mockTransport implements Transport for testing. Each OpenChannel call
// returns the next scripted channel, or a fresh default channel when the
// script is exhausted.
type mockTransport struct {
	mu        sync.Mutex
	alive     bool
	openCount int
	openErrs  []error
	script    []*mockChannel
	opened    []*mockChannel
}

func newMockTransport() *mockTransport {
	return &mockTransport{alive: true}
}

func (t *mockTransport) enqueue(chs ...*mockChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.script = append(t.script, chs...)
}

func (t *mockTransport) failNextOpen(errs ...error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErrs = append(t.openErrs, errs...)
}

func (t *mockTransport) OpenChannel(ctx context.Context) (TransportChannel, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.openCount++

	if len(t.openErrs) > 0 {
		err := t.openErrs[0]
		t.openErrs = t.openErrs[1:]
		return nil, err
	}

	var ch *mockChannel
	if len(t.script) > 0 {
		ch = t.script[0]
		t.script = t.script[1:]
	} else {
		ch = newMockChannel()
	}
	t.opened = append(t.opened, ch)
	return ch, nil
}

func (t *mockTransport) channelsOpened() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openCount
}

func (t *mockTransport) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

func (t *mockTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive = true
	return nil
}

func (t *mockTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.alive = false
	return nil
}

// mockChannel implements TransportChannel with scripted failures
type mockChannel struct {
	mu sync.Mutex

	published []contracts.Message
	options   []contracts.DeliveryOptions

	confirmSelected bool
	txSelected      bool
	committed       bool
	rolledBack      bool
	closedByUser    bool
	waitCalls       int

	publishErr   error
	publishErrAt int // 1-based index of the publish call that fails, 0 = every call
	confirmErr   error
	txCommitErr  error
	consumeErr   error

	deliveries chan TransportDelivery
	closeCh    chan error
	closeOnce  sync.Once
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		deliveries: make(chan TransportDelivery, 16),
		closeCh:    make(chan error, 1),
	}
}

// reportClosed simulates the transport reporting this channel closed
func (c *mockChannel) reportClosed(err error) {
	c.closeOnce.Do(func() {
		if err != nil {
			c.closeCh <- err
		}
		close(c.closeCh)
		close(c.deliveries)
	})
}

func (c *mockChannel) deliver(d TransportDelivery) {
	c.deliveries <- d
}

func (c *mockChannel) Publish(ctx context.Context, msg contracts.Message, opts contracts.DeliveryOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	call := len(c.published) + 1
	if c.publishErr != nil && (c.publishErrAt == 0 || c.publishErrAt == call) {
		return c.publishErr
	}

	c.published = append(c.published, msg)
	c.options = append(c.options, opts)
	return nil
}

func (c *mockChannel) ConfirmSelect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmSelected = true
	return nil
}

func (c *mockChannel) WaitForConfirm(ctx context.Context) error {
	c.mu.Lock()
	c.waitCalls++
	err := c.confirmErr
	c.mu.Unlock()

	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (c *mockChannel) TxSelect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.txSelected = true
	return nil
}

func (c *mockChannel) TxCommit() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.txCommitErr != nil {
		return c.txCommitErr
	}
	c.committed = true
	return nil
}

func (c *mockChannel) TxRollback() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rolledBack = true
	return nil
}

func (c *mockChannel) Consume(ctx context.Context, queue string, opts ConsumeOptions) (<-chan TransportDelivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.consumeErr != nil {
		return nil, c.consumeErr
	}
	return c.deliveries, nil
}

func (c *mockChannel) NotifyClose() <-chan error {
	return c.closeCh
}

func (c *mockChannel) Close() error {
	c.mu.Lock()
	c.closedByUser = true
	c.mu.Unlock()
	return nil
}

func (c *mockChannel) publishedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.published)
}

func (c *mockChannel) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedByUser
}

// mockDelivery implements TransportDelivery
type mockDelivery struct {
	mu          sync.Mutex
	body        []byte
	routingKey  string
	redelivered bool
	acked       bool
	nacked      bool
}

func (d *mockDelivery) Body() []byte { return d.body }

func (d *mockDelivery) Headers() map[string]interface{} { return nil }

func (d *mockDelivery) RoutingKey() string { return d.routingKey }

func (d *mockDelivery) Redelivered() bool { return d.redelivered }

func (d *mockDelivery) Ack() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *mockDelivery) Nack(requeue bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
	return nil
}

func (d *mockDelivery) wasAcked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked
}
