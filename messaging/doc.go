// Package messaging provides the transport-agnostic resilience core of
// resilmq.
//
// This package implements the primary building blocks:
//   - Transport interfaces: the narrow surface required from a broker client
//     (open channel, liveness, publish, confirm, transactions, consume)
//   - Publisher: message publishing under a selectable reliability mode
//     (best-effort, confirmed, transactional)
//   - ConsumerSupervisor: named consumer registrations with a supervised
//     lifecycle that reattaches subscriptions after channel or connection
//     failures
//
// Key behaviors:
//   - Every publish attempt and every consumer subscription owns a fresh,
//     exclusive channel for its lifetime
//   - Confirmed publishing retries transient transport failures up to a
//     bounded number of attempts, re-acquiring a channel per attempt
//   - Transactional publishing commits a batch as one unit and rolls back
//     before propagating any failure
//   - Supervised consumers retry reattachment indefinitely until explicitly
//     stopped, and stop requests are honored at every retry boundary
//
// Example usage:
//
//	publisher := messaging.NewPublisher(transport,
//		messaging.WithMode(messaging.Confirmed),
//		messaging.WithConfirmAttempts(3))
//	err := publisher.Publish(ctx, contracts.NewMessage("orders", "order.created", body),
//		contracts.DeliveryOptions{})
//
//	supervisor := messaging.NewConsumerSupervisor(transport)
//	supervisor.AddConsumer(messaging.ConsumerRegistration{
//		Name:    "order-worker",
//		Queue:   "orders",
//		AckMode: messaging.ManualAck,
//		Handler: handleOrder,
//	})
//	supervisor.StartAllConsumers()
package messaging
