package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{w: w}

	at := time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)
	changes := []RuleChange{
		{Type: RuleCreated, Tenant: "acme", Context: "public", RuleID: "01A", At: at},
		{Type: RuleDeleted, Context: "default", RuleID: "01B", At: at},
	}
	for _, c := range changes {
		if err := p.Publish(context.Background(), c); err != nil {
			t.Fatalf("Publish() error: %v", err)
		}
	}

	if len(w.msgs) != 2 {
		t.Fatalf("wrote %d messages, want 2", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "acme" || string(w.msgs[1].Key) != "_default" {
		t.Errorf("keys = %q, %q, want acme, _default", w.msgs[0].Key, w.msgs[1].Key)
	}

	var got RuleChange
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("decoding message: %v", err)
	}
	if got != changes[0] {
		t.Errorf("message = %+v, want %+v", got, changes[0])
	}
}

func TestKafkaPublisherError(t *testing.T) {
	p := &KafkaPublisher{w: &fakeWriter{err: errors.New("leader not available")}}
	if err := p.Publish(context.Background(), RuleChange{Type: RuleUpdated}); err == nil {
		t.Error("expected write error")
	}
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	if _, err := NewKafkaPublisher(KafkaConfig{Topic: "rules"}); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}); err == nil {
		t.Error("expected error without topic")
	}
	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "rules"})
	if err != nil {
		t.Fatalf("NewKafkaPublisher() error: %v", err)
	}
	p.Close()
}
