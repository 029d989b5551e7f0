// Package kafka publishes reconciliation analytics to a Kafka topic. The
// publisher is optional: without brokers it degrades to a log-only mode so
// the orchestrator never depends on the analytics pipeline being up.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/bridges/otelslog"

	"github.com/aria-voice/aria-core/core/reconcile"
)

const scopeName = "github.com/aria-voice/aria-core/analytics/kafka"

var logger = otelslog.NewLogger(scopeName)

// messageWriter is the slice of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config holds the Kafka publisher configuration.
type Config struct {
	Brokers []string
	Topic   string
	Enabled bool
}

// ReconciliationEvent is the analytics record emitted per finalized utterance.
// It carries outcome and latency only, never transcript text or payloads.
type ReconciliationEvent struct {
	SessionID        string    `json:"sessionId"`
	Intent           string    `json:"intent"`
	Source           string    `json:"source"`
	TimeToDecisionMs int64     `json:"timeToDecisionMs"`
	TimeToAudioMs    int64     `json:"timeToAudioMs"`
	Timestamp        time.Time `json:"timestamp"`
}

// Publisher writes reconciliation events to a Kafka topic.
type Publisher struct {
	writer  messageWriter
	topic   string
	enabled bool
	now     func() time.Time
}

// New creates a publisher for the given configuration. A disabled or
// broker-less configuration yields a log-only publisher.
func New(cfg Config) *Publisher {
	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		logger.Info("Kafka analytics disabled, using log-only mode")
		return &Publisher{topic: cfg.Topic, now: time.Now}
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	logger.Info("Kafka analytics publisher initialized",
		"brokers", cfg.Brokers, "topic", cfg.Topic)
	return &Publisher{writer: writer, topic: cfg.Topic, enabled: true, now: time.Now}
}

// PublishReconciliation emits one analytics event for a finalized utterance.
func (p *Publisher) PublishReconciliation(ctx context.Context, sessionID string, result *reconcile.Result) error {
	event := ReconciliationEvent{
		SessionID:        sessionID,
		Intent:           result.Intent,
		Source:           string(result.Source),
		TimeToDecisionMs: result.TimeToDecision.Milliseconds(),
		TimeToAudioMs:    result.TimeToFirstAudio.Milliseconds(),
		Timestamp:        p.now(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal reconciliation event: %w", err)
	}

	if !p.enabled || p.writer == nil {
		logger.Debug("Skipping analytics publish", "topic", p.topic, "intent", event.Intent)
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(sessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte("reconciliation")},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish reconciliation event: %w", err)
	}
	return nil
}

// Close shuts down the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
