package notify

import (
	"context"

	"turnstile/pkg/logger"
	"turnstile/pkg/model"
)

// LogSink writes notifications to the service log. Used when Kafka is off.
type LogSink struct {
	log *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, n model.Notification) error {
	attrs := []any{
		"type", n.Type,
		"event_id", n.EventID,
		"participant_id", n.ParticipantID,
	}
	if n.EntryID != "" {
		attrs = append(attrs, "entry_id", n.EntryID)
	}
	if n.TicketID != "" {
		attrs = append(attrs, "ticket_id", n.TicketID)
	}
	if n.OfferDeadline != nil {
		attrs = append(attrs, "offer_deadline", n.OfferDeadline)
	}
	if n.Reason != "" {
		attrs = append(attrs, "reason", n.Reason)
	}
	s.log.Info("Participant notification", attrs...)
	return nil
}
