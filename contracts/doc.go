// Package contracts provides the value types and error taxonomy shared by the
// resilmq messaging core:
//   - Message: an immutable publish payload addressed to an exchange/routing key
//   - MessageProperties: broker-visible message metadata
//   - DeliveryOptions: publish-time flags passed alongside a Message
//   - ConnectionDescriptor: immutable connection configuration
//
// Error types here classify failures the way publishers need to react to them:
// transient transport failures are retryable, broker rejections are terminal,
// and an interrupted confirmation wait is reported as its own outcome.
package contracts
