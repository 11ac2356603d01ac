package mqx

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"

	"issue-notifications/shared/config"
)

func TestHeader(t *testing.T) {
	msg := kafka.Message{Headers: []kafka.Header{{Key: "event_id", Value: []byte("e1")}, {Key: "event_id", Value: []byte("e2")}}}
	if got := Header(msg, "event_id"); got != "e1" {
		t.Fatalf("expected first header, got %q", got)
	}
	if got := Header(msg, "missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}

func TestNewConsumerRequiresBrokersTopicAndGroup(t *testing.T) {
	if _, err := NewConsumer(config.Config{}, "t", "g"); err == nil {
		t.Fatalf("expected broker error")
	}
	cfg := config.Config{KafkaBrokers: []string{"localhost:9092"}}
	if _, err := NewConsumer(cfg, "", "g"); err == nil {
		t.Fatalf("expected topic error")
	}
	if _, err := NewConsumer(cfg, "t", ""); err == nil {
		t.Fatalf("expected group error")
	}
}

func TestStartConsumeSpanWithoutHeaders(t *testing.T) {
	ctx, span := StartConsumeSpan(context.Background(), kafka.Message{Topic: "issues.changes"})
	defer span.End()
	if ctx == nil {
		t.Fatalf("expected context")
	}
}

func TestNilProducer(t *testing.T) {
	var p *Producer
	if err := p.Publish(context.Background(), "t", nil, nil, nil); err == nil {
		t.Fatalf("expected error from nil producer")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close of nil producer: %v", err)
	}
}
