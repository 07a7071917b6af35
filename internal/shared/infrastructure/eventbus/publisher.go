// Package eventbus connects the outbox to the message broker. The publisher
// side is fed by the outbox processor; the consumer side feeds the mirror
// writer.
package eventbus

import (
	"context"
)

// Publisher defines the interface for publishing messages to a broker.
type Publisher interface {
	// Publish sends a message with the given routing key.
	Publish(ctx context.Context, routingKey string, payload []byte) error

	// Close closes the publisher connection.
	Close() error
}

// Delivery is one consumed message.
type Delivery struct {
	RoutingKey string
	Payload    []byte
}

// Handler processes a consumed message. Returning an error rejects the
// delivery for redelivery.
type Handler func(ctx context.Context, d Delivery) error

// Consumer defines the interface for consuming messages from a broker.
type Consumer interface {
	// Start begins delivering messages to the handler until ctx is done.
	Start(ctx context.Context, handler Handler) error

	// Close closes the consumer connection.
	Close() error
}
