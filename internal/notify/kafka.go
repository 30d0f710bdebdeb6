package notify

import (
	"context"
	"fmt"

	"turnstile/pkg/kafka"
	"turnstile/pkg/model"
)

const (
	SourceAdmission = "turnstile-admission"
	SchemaVersion   = "1"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, msg kafka.Message) error
}

// KafkaSink keys every notification by participant so a participant's
// notifications stay ordered on one partition.
type KafkaSink struct {
	publisher Publisher
}

func NewKafkaSink(publisher Publisher) *KafkaSink {
	return &KafkaSink{publisher: publisher}
}

func (s *KafkaSink) Deliver(ctx context.Context, n model.Notification) error {
	msg, err := kafka.NewMessage().
		WithKey(n.EventID + ":" + n.ParticipantID).
		WithValue(n).
		WithType(string(n.Type)).
		WithSource(SourceAdmission).
		WithSchemaVersion(SchemaVersion).
		WithCorrelationID(n.EntryID).
		WithTimestamp(n.OccurredAt).
		Build()
	if err != nil {
		return fmt.Errorf("build notification message: %w", err)
	}
	return s.publisher.Publish(ctx, msg)
}
