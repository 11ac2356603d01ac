package mqx

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"issue-notifications/shared/config"
)

type Publisher interface {
	Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

type Producer struct {
	writer *kafka.Writer
}

func NewProducer(cfg config.Config) (*Producer, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		MaxAttempts:  maxInt(cfg.KafkaRetryMax, 1),
		BatchTimeout: time.Duration(cfg.KafkaWriteMS) * time.Millisecond,
		Transport: &kafka.Transport{
			ClientID: cfg.KafkaClientID,
		},
	}
	return &Producer{writer: w}, nil
}

func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error {
	if p == nil || p.writer == nil {
		return errors.New("producer not initialized")
	}
	ctx, span := otel.Tracer("mqx").Start(ctx, "kafka.produce", trace.WithSpanKind(trace.SpanKindProducer))
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", topic),
	)
	defer span.End()

	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier[k] = v
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	msg := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: make([]kafka.Header, 0, len(carrier)),
	}
	for k, v := range carrier {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NewConsumer returns a group reader with manual commits; callers commit
// only after a message is fully handled.
func NewConsumer(cfg config.Config, topic string, groupID string) (*kafka.Reader, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	if groupID == "" {
		groupID = cfg.KafkaGroupID
	}
	if groupID == "" {
		return nil, errors.New("KAFKA_CONSUMER_GROUP is required")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.KafkaBrokers,
		GroupID:        groupID,
		Topic:          topic,
		MinBytes:       1e3,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
	return reader, nil
}

func StartConsumeSpan(ctx context.Context, msg kafka.Message) (context.Context, trace.Span) {
	carrier := propagation.MapCarrier{}
	for _, h := range msg.Headers {
		carrier[h.Key] = string(h.Value)
	}
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	ctx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.destination", msg.Topic),
		attribute.Int("messaging.kafka.partition", msg.Partition),
		attribute.Int64("messaging.kafka.offset", msg.Offset),
	)
	return ctx, span
}

func Header(msg kafka.Message, key string) string {
	for _, h := range msg.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
