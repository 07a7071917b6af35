package eventbus

import (
	"context"
	"sync"
)

// InProcessBus is a channel-backed bus for local mode and tests. It
// implements both Publisher and Consumer.
type InProcessBus struct {
	mu       sync.Mutex
	messages chan Delivery
	closed   bool
}

// NewInProcessBus creates an in-process bus with a bounded buffer.
func NewInProcessBus(buffer int) *InProcessBus {
	if buffer <= 0 {
		buffer = 1024
	}
	return &InProcessBus{
		messages: make(chan Delivery, buffer),
	}
}

// Publish enqueues a message. Blocks when the buffer is full so producers
// observe backpressure instead of dropping intents.
func (b *InProcessBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return context.Canceled
	}
	b.mu.Unlock()

	body := make([]byte, len(payload))
	copy(body, payload)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case b.messages <- Delivery{RoutingKey: routingKey, Payload: body}:
		return nil
	}
}

// Start delivers messages to the handler until ctx is done.
func (b *InProcessBus) Start(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-b.messages:
			if !ok {
				return nil
			}
			// A failed handler sees the message again: it is requeued at
			// the back of the buffer, or dropped if the buffer is full.
			if err := handler(ctx, d); err != nil {
				select {
				case b.messages <- d:
				default:
				}
			}
		}
	}
}

// Close closes the bus.
func (b *InProcessBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.messages)
	}
	return nil
}
