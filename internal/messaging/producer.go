package messaging

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// Header carrying the event type next to the otel headers.
const EventTypeHeader = "event_type"

// MessageWriter is the part of *kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Option configures a Producer.
type Option func(*Producer)

// WithTracerProvider sets the tracer provider for publish spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Producer) { p.tracer = tp.Tracer("github.com/xenking/kart-orders/internal/messaging") }
}

// WithPropagator replaces the global otel propagator.
func WithPropagator(prop propagation.TextMapPropagator) Option {
	return func(p *Producer) { p.propagator = prop }
}

// WithWriter replaces the kafka writer.
func WithWriter(w MessageWriter) Option {
	return func(p *Producer) { p.writer = w }
}

// Producer writes order events to a Kafka topic keyed by order id, so all
// events of one order land on the same partition in order.
type Producer struct {
	writer     MessageWriter
	topic      string
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewProducer creates a Producer for topic on the given brokers.
func NewProducer(brokers []string, topic string, opts ...Option) *Producer {
	p := &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           50 * time.Millisecond,
		},
		tracer:     tracenoop.NewTracerProvider().Tracer(""),
		propagator: otel.GetTextMapPropagator(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Publish writes events in one batch. The call succeeds only when every
// message was acknowledged.
func (p *Producer) Publish(ctx context.Context, events []order.Event) error {
	if len(events) == 0 {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "send "+p.topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("send"),
			semconv.MessagingOperationTypePublish,
			semconv.MessagingDestinationName(p.topic),
			semconv.MessagingBatchMessageCount(len(events)),
		),
	)
	defer span.End()

	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msgs[i] = kafka.Message{
			Key:   []byte(e.AggregateID),
			Value: e.Payload,
			Time:  e.CreatedAt,
			Headers: []kafka.Header{
				{Key: EventTypeHeader, Value: []byte(e.Type)},
			},
		}
		p.propagator.Inject(ctx, NewHeaderCarrier(&msgs[i]))
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Wrapf(err, "write %d messages to %s", len(msgs), p.topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
