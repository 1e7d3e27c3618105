// Package events publishes dialplan rule changes so switches and caches
// can drop stale documents.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// Change types.
const (
	RuleCreated = "rule.created"
	RuleUpdated = "rule.updated"
	RuleDeleted = "rule.deleted"
)

// RuleChange describes one committed rule edit. Tenant is empty for
// default rules.
type RuleChange struct {
	Type      string    `json:"type"`
	Tenant    string    `json:"tenant,omitempty"`
	Context   string    `json:"context"`
	RuleID    string    `json:"rule_id"`
	UpdatedBy string    `json:"updated_by,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher delivers rule changes.
type Publisher interface {
	Publish(ctx context.Context, change RuleChange) error
	Close() error
}

// LogPublisher writes changes to the log only.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that logs each change.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("subsystem", "events")}
}

// Publish logs the change.
func (p *LogPublisher) Publish(_ context.Context, change RuleChange) error {
	p.logger.Info("rule changed",
		"type", change.Type,
		"tenant", change.Tenant,
		"context", change.Context,
		"rule_id", change.RuleID,
	)
	return nil
}

// Close is a no-op.
func (p *LogPublisher) Close() error { return nil }

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration // default 10ms
	WriteTimeout time.Duration // default 5s
}

// messageWriter is the part of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes changes as JSON messages keyed by tenant, so all
// changes for one tenant land on one partition in order.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher creates a publisher writing to cfg.Topic.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	bt := cfg.BatchTimeout
	if bt <= 0 {
		bt = 10 * time.Millisecond
	}
	wt := cfg.WriteTimeout
	if wt <= 0 {
		wt = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           bt,
		WriteTimeout:           wt,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{w: w}, nil
}

// Publish writes one change.
func (p *KafkaPublisher) Publish(ctx context.Context, change RuleChange) error {
	value, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encoding rule change: %w", err)
	}
	key := change.Tenant
	if key == "" {
		key = "_default"
	}
	if err := p.w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value}); err != nil {
		return fmt.Errorf("writing rule change: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
