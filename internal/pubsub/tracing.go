package pubsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const tracerName = "sharedhub-pubsub"

// ErrEmptyTopic is returned when publishing a message without a topic.
var ErrEmptyTopic = errors.New("message has no topic")

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   // Whether tracing is enabled
	ServiceName string // Service name for traces
	ZipkinURL   string // Zipkin exporter URL
}

// DefaultTracingConfig returns a default tracing configuration
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Enabled:     false,
		ServiceName: "sharedhub",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
	}
}

// Tracing owns the tracer used by the bus and the provider behind it.
type Tracing struct {
	Tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter for bus
// observability. When tracing is disabled the returned tracer is a no-op.
func SetupOTel(ctx context.Context, config TracingConfig) (*Tracing, error) {
	if !config.Enabled {
		return &Tracing{Tracer: noop.NewTracerProvider().Tracer(tracerName)}, nil
	}

	exporter, err := zipkin.New(config.ZipkinURL)
	if err != nil {
		return nil, fmt.Errorf("create zipkin exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", config.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return &Tracing{Tracer: tp.Tracer(tracerName), provider: tp}, nil
}

// Shutdown flushes pending spans.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func startSpan(ctx context.Context, tracer trace.Tracer, op, topic string, msg *message.Message) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}

	payloadPreview := string(msg.Payload)
	if len(payloadPreview) > 100 {
		payloadPreview = payloadPreview[:100] + "..."
	}

	return tracer.Start(ctx, fmt.Sprintf("pubsub.%s.%s", op, topic),
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", op),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.message_id", msg.UUID),
			attribute.String("hub.connection_id", msg.Metadata.Get(metaKeyUserID)),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
			attribute.String("messaging.message_payload_preview", payloadPreview),
		),
	)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
