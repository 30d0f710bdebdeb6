package catalog

import (
	"context"
	"encoding/json"
	"errors"

	admissionerrors "turnstile/internal/admission/errors"
	apperrors "turnstile/pkg/errors"
	"turnstile/pkg/logger"
	"turnstile/pkg/model"
	"turnstile/pkg/rabbitmq"
)

const (
	RoutingKeyUpserted  = "event.upserted"
	RoutingKeyCancelled = "event.cancelled"
	BindingKey          = "event.*"
)

// Canceller runs the full cancellation cascade for an event.
type Canceller interface {
	CancelEvent(ctx context.Context, eventID string) error
}

type EventValidator interface {
	ValidateEvent(event *model.EventCapacity) error
	ValidateID(field, id string) error
}

type cancelledMessage struct {
	EventID string `json:"event_id"`
}

// Syncer applies catalog change messages.
type Syncer struct {
	catalog   Catalog
	canceller Canceller
	validator EventValidator
	log       *logger.Logger
}

func NewSyncer(catalog Catalog, canceller Canceller, validator EventValidator, log *logger.Logger) *Syncer {
	return &Syncer{
		catalog:   catalog,
		canceller: canceller,
		validator: validator,
		log:       log,
	}
}

// Handle matches rabbitmq.Handler.
func (s *Syncer) Handle(ctx context.Context, routingKey string, body []byte) rabbitmq.Outcome {
	switch routingKey {
	case RoutingKeyUpserted:
		return s.handleUpserted(ctx, body)
	case RoutingKeyCancelled:
		var msg cancelledMessage
		if err := json.Unmarshal(body, &msg); err != nil || msg.EventID == "" {
			s.log.Warn("Dropping malformed catalog cancellation", "error", err)
			return rabbitmq.Reject
		}
		if err := s.validator.ValidateID("event_id", msg.EventID); err != nil {
			s.log.Warn("Dropping catalog cancellation with invalid event id", "event_id", msg.EventID, "error", err)
			return rabbitmq.Reject
		}
		return s.cancel(ctx, msg.EventID)
	default:
		s.log.Debug("Ignoring catalog message", "routing_key", routingKey)
		return rabbitmq.Ack
	}
}

func (s *Syncer) handleUpserted(ctx context.Context, body []byte) rabbitmq.Outcome {
	var event model.EventCapacity
	if err := json.Unmarshal(body, &event); err != nil {
		s.log.Warn("Dropping malformed catalog event", "error", err)
		return rabbitmq.Reject
	}
	if err := s.validator.ValidateEvent(&event); err != nil {
		s.log.Warn("Dropping invalid catalog event", "event_id", event.ID, "error", err)
		return rabbitmq.Reject
	}

	if err := s.catalog.Upsert(ctx, &event); err != nil {
		if errors.Is(err, admissionerrors.ErrCapacityChanged) {
			s.log.Error("Rejected capacity change for known event",
				"event_id", event.ID,
				"total_capacity", event.TotalCapacity,
			)
			return rabbitmq.Reject
		}
		s.log.Error("Failed to upsert catalog event, requeueing", "event_id", event.ID, "error", err)
		return rabbitmq.Requeue
	}

	s.log.Info("Synced catalog event",
		"event_id", event.ID,
		"total_capacity", event.TotalCapacity,
		"is_cancelled", event.IsCancelled,
	)

	if event.IsCancelled {
		return s.cancel(ctx, event.ID)
	}
	return rabbitmq.Ack
}

func (s *Syncer) cancel(ctx context.Context, eventID string) rabbitmq.Outcome {
	if err := s.canceller.CancelEvent(ctx, eventID); err != nil {
		if errors.Is(err, admissionerrors.ErrEventNotFound) {
			s.log.Warn("Cancellation for unknown event dropped", "event_id", eventID)
			return rabbitmq.Reject
		}
		// Client errors will fail the same way on every redelivery.
		if apperrors.AsAppError(err).StatusCode() < 500 {
			s.log.Warn("Cancellation rejected, dropping", "event_id", eventID, "error", err)
			return rabbitmq.Reject
		}
		s.log.Error("Failed to cancel event, requeueing", "event_id", eventID, "error", err)
		return rabbitmq.Requeue
	}
	return rabbitmq.Ack
}
