package contracts

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryMode values for MessageProperties.DeliveryMode.
const (
	Transient  uint8 = 1
	Persistent uint8 = 2
)

// MessageProperties holds broker-visible metadata for a message
type MessageProperties struct {
	ContentType     string
	ContentEncoding string
	MessageID       string
	CorrelationID   string
	Timestamp       time.Time
	DeliveryMode    uint8
	Headers         map[string]interface{}
}

// Message is a publish payload addressed to an exchange and routing key.
// It is treated as immutable once handed to a publish call; the With* helpers
// return copies so a built message can be shared safely between callers.
type Message struct {
	Exchange   string
	RoutingKey string
	Body       []byte
	Properties MessageProperties
}

// NewMessage creates a message with a generated message ID and a timestamp
func NewMessage(exchange, routingKey string, body []byte) Message {
	return Message{
		Exchange:   exchange,
		RoutingKey: routingKey,
		Body:       body,
		Properties: MessageProperties{
			MessageID:    uuid.New().String(),
			Timestamp:    time.Now(),
			DeliveryMode: Transient,
		},
	}
}

// WithContentType returns a copy of the message with the content type set
func (m Message) WithContentType(contentType string) Message {
	m.Properties.ContentType = contentType
	return m
}

// WithCorrelationID returns a copy of the message with the correlation ID set
func (m Message) WithCorrelationID(correlationID string) Message {
	m.Properties.CorrelationID = correlationID
	return m
}

// WithDeliveryMode returns a copy of the message with the delivery mode set
func (m Message) WithDeliveryMode(mode uint8) Message {
	m.Properties.DeliveryMode = mode
	return m
}

// WithHeader returns a copy of the message with a header added. The header
// map is copied so the original message is not mutated.
func (m Message) WithHeader(key string, value interface{}) Message {
	headers := make(map[string]interface{}, len(m.Properties.Headers)+1)
	for k, v := range m.Properties.Headers {
		headers[k] = v
	}
	headers[key] = value
	m.Properties.Headers = headers
	return m
}

// DeliveryOptions carries publish-time flags. It has no lifecycle of its own
// and is always passed alongside a Message.
type DeliveryOptions struct {
	Mandatory bool
	Immediate bool
}
