package payment

import (
	"context"
	"errors"
	"net/http"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	apperrors "turnstile/pkg/errors"
	"turnstile/pkg/kafka"
	"turnstile/pkg/logger"
	"turnstile/pkg/model"
)

const MessageTypePaymentSucceeded = "payment.succeeded"

type Committer interface {
	Commit(ctx context.Context, entryID, participantID string) (*model.Ticket, error)
}

type Refunder interface {
	RequestRefund(ctx context.Context, instruction model.RefundInstruction) error
}

type PaymentValidator interface {
	ValidatePayment(msg *model.PaymentSucceeded) error
}

// ResultHandler turns payment success signals into tickets.
type ResultHandler struct {
	committer Committer
	refunds   Refunder
	validator PaymentValidator
	log       *logger.Logger
	now       func() time.Time
}

func NewResultHandler(committer Committer, refunds Refunder, validator PaymentValidator, log *logger.Logger) *ResultHandler {
	return &ResultHandler{
		committer: committer,
		refunds:   refunds,
		validator: validator,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle matches kafka.MessageHandler. Returned errors are classified for
// retry by the consumer.
func (h *ResultHandler) Handle(ctx context.Context, msg kafka.Message) error {
	if t := msg.GetType(); t != "" && t != MessageTypePaymentSucceeded {
		h.log.Debug("Ignoring payment message", "message_type", t, "offset", msg.Offset)
		return nil
	}

	var payment model.PaymentSucceeded
	if err := msg.DecodeValue(&payment); err != nil {
		return err
	}
	if err := h.validator.ValidatePayment(&payment); err != nil {
		return kafka.NewPermanentError("invalid payment result", err)
	}

	ticket, err := h.committer.Commit(ctx, payment.EntryID, payment.ParticipantID)
	switch {
	case err == nil:
		h.log.Info("Payment committed",
			"payment_id", payment.PaymentID,
			"entry_id", payment.EntryID,
			"ticket_id", ticket.ID,
		)
		return nil

	case errors.Is(err, admissionerrors.ErrAlreadyCommitted):
		h.log.Info("Duplicate payment result ignored",
			"payment_id", payment.PaymentID,
			"entry_id", payment.EntryID,
		)
		return nil

	case errors.Is(err, admissionerrors.ErrOfferExpired),
		errors.Is(err, admissionerrors.ErrOfferNotFound),
		errors.Is(err, admissionerrors.ErrEventCancelled),
		errors.Is(err, admissionerrors.ErrEventNotFound):
		// Money was captured without a seat behind it.
		return h.refundLapsed(ctx, payment, err)
	}

	if isRetryable(err) {
		return kafka.NewTransientError("commit payment", err)
	}
	return kafka.NewPermanentError("commit payment", err)
}

func (h *ResultHandler) refundLapsed(ctx context.Context, payment model.PaymentSucceeded, cause error) error {
	h.log.Warn("Payment arrived without a live offer, refunding",
		"payment_id", payment.PaymentID,
		"entry_id", payment.EntryID,
		"participant_id", payment.ParticipantID,
		"cause", cause,
	)

	err := h.refunds.RequestRefund(ctx, model.RefundInstruction{
		EventID:       payment.EventID,
		ParticipantID: payment.ParticipantID,
		EntryID:       payment.EntryID,
		PaymentID:     payment.PaymentID,
		Reason:        model.ReasonOfferLapsed,
		RequestedAt:   h.now(),
	})
	if err != nil {
		return kafka.NewTransientError("refund lapsed payment", err)
	}
	return nil
}

func isRetryable(err error) bool {
	if errors.Is(err, admissionerrors.ErrLockTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode() >= http.StatusInternalServerError
	}
	return kafka.ClassifyError(err) == kafka.ErrorTypeTransient
}
