package pubsub

import (
	"context"
)

// Message is the envelope passed over the event bus.
type Message struct {
	// Topic identifies the event kind (e.g., "hub.connection.opened").
	Topic string
	// UserID identifies the connection the event is about, if any.
	UserID string
	// Payload contains the JSON-encoded event.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context (e.g., timestamps).
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages from the bus.
type Subscriber interface {
	// Subscribe starts delivering messages on topic to handler in the background.
	// Delivery stops when ctx is cancelled or the bus is closed.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
