package payment

import (
	"context"
	"fmt"

	"turnstile/pkg/logger"
	"turnstile/pkg/model"
)

const RoutingKeyRefundRequested = "payment.refund_requested"

// Publisher is satisfied by *rabbitmq.Publisher.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// RefundRequester hands refund instructions to the payment system over
// RabbitMQ. Delivery is at-least-once; the payment system deduplicates on
// ticket id or payment id.
type RefundRequester struct {
	publisher Publisher
	log       *logger.Logger
}

func NewRefundRequester(publisher Publisher, log *logger.Logger) *RefundRequester {
	return &RefundRequester{publisher: publisher, log: log}
}

func (r *RefundRequester) RequestRefund(ctx context.Context, instruction model.RefundInstruction) error {
	if err := r.publisher.Publish(ctx, RoutingKeyRefundRequested, instruction); err != nil {
		return fmt.Errorf("request refund for participant %s: %w", instruction.ParticipantID, err)
	}

	r.log.Info("Refund requested",
		"event_id", instruction.EventID,
		"participant_id", instruction.ParticipantID,
		"ticket_id", instruction.TicketID,
		"payment_id", instruction.PaymentID,
		"reason", instruction.Reason,
	)
	return nil
}
