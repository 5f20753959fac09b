package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	// Metadata keys used to transfer our Message structure fields through watermill's message.
	metaKeyUserID = "user_id"
	metaKeyTopic  = "topic"

	defaultOutputBuffer = 256
)

// Bus implements Publisher and Subscriber on watermill's in-memory GoChannel.
type Bus struct {
	channel *gochannel.GoChannel
	tracer  trace.Tracer
	logger  *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithTracer records a span for every publish and every handled message.
func WithTracer(tracer trace.Tracer) BusOption {
	return func(b *Bus) {
		if tracer != nil {
			b.tracer = tracer
		}
	}
}

// WithBusLogger sets the logger used by the bus and by watermill itself.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an in-memory bus. Publishing never waits for subscribers.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		tracer: noop.NewTracerProvider().Tracer(tracerName),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "pubsub")

	b.channel = gochannel.NewGoChannel(
		gochannel.Config{OutputChannelBuffer: defaultOutputBuffer},
		newSlogAdapter(b.logger),
	)
	return b
}

// mapToWatermillMessage converts our pubsub.Message to a watermill message.
func mapToWatermillMessage(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)

	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	// reserved keys win over caller metadata
	wmMsg.Metadata.Set(metaKeyUserID, msg.UserID)
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)

	return wmMsg
}

// mapToPubSubMessage converts a watermill message back to our internal pubsub.Message.
func mapToPubSubMessage(wmMsg *message.Message) Message {
	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyUserID && k != metaKeyTopic {
			metadata[k] = v
		}
	}

	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		UserID:   wmMsg.Metadata.Get(metaKeyUserID),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements the Publisher interface.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return fmt.Errorf("publish: %w", ErrEmptyTopic)
	}
	wmMsg := mapToWatermillMessage(msg)

	spanCtx, span := startSpan(ctx, b.tracer, "publish", msg.Topic, wmMsg)
	defer span.End()
	wmMsg.SetContext(spanCtx)

	if err := b.channel.Publish(msg.Topic, wmMsg); err != nil {
		recordError(span, err)
		return fmt.Errorf("publish %s: %w", msg.Topic, err)
	}
	return nil
}

// Subscribe implements the Subscriber interface.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := b.channel.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for wmMsg := range messages {
			msg := mapToPubSubMessage(wmMsg)

			spanCtx, span := startSpan(wmMsg.Context(), b.tracer, "process", topic, wmMsg)
			if err := handler(spanCtx, msg); err != nil {
				recordError(span, err)
				b.logger.Error("Failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			span.End()
			// GoChannel redelivers nacked messages forever, so handler errors are only logged.
			wmMsg.Ack()
		}
		b.logger.Debug("Subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close implements the Publisher and Subscriber interface to shut down the bus.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// Shutdown closes the bus when its owning container shuts down.
func (b *Bus) Shutdown() error {
	return b.Close()
}
