package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaSink publishes audit entries to a Kafka topic for external consumers.
// Produce is asynchronous; delivery failures are logged, never surfaced to
// the caller, since the durable store write has already happened.
type KafkaSink struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaSink connects to the given brokers. Returns nil when brokers is
// empty (Kafka not configured) so callers can wire it unconditionally.
func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaSink{client: client, topic: topic, logger: logger}, nil
}

// kafkaEntry is the wire shape for audit entries on the topic.
type kafkaEntry struct {
	ID           string            `json:"id"`
	DecisionID   string            `json:"decision_id,omitempty"`
	FederationID string            `json:"federation_id"`
	ActorID      string            `json:"actor_id"`
	ActorRole    string            `json:"actor_role"`
	Action       string            `json:"action"`
	Decision     string            `json:"decision,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	Details      map[string]string `json:"details,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

func (s *KafkaSink) Publish(ctx context.Context, entry Entry) error {
	wire := kafkaEntry{
		ID:           entry.ID.String(),
		FederationID: entry.FederationID.String(),
		ActorID:      entry.ActorID.String(),
		ActorRole:    entry.ActorRole.String(),
		Action:       string(entry.Action),
		Decision:     entry.Decision,
		Reason:       entry.Reason,
		Details:      entry.Details,
		RequestID:    entry.RequestID,
		Timestamp:    entry.Timestamp,
	}
	if entry.DecisionID != nil {
		wire.DecisionID = entry.DecisionID.String()
	}

	value, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	record := &kgo.Record{
		Key:   []byte(entry.FederationID.String()),
		Value: value,
	}
	s.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && s.logger != nil {
			s.logger.Warn("kafka audit produce failed",
				"topic", s.topic,
				"error", err,
			)
		}
	})
	return nil
}

// Close flushes outstanding records and releases the client.
func (s *KafkaSink) Close(ctx context.Context) error {
	if err := s.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush kafka client: %w", err)
	}
	s.client.Close()
	return nil
}
