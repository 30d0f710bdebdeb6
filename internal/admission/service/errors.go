package service

import (
	"context"
	"errors"
	"net/http"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/internal/admission/validator"
	apperrors "turnstile/pkg/errors"
)

const (
	CodeEventNotFound    = "EVENT_NOT_FOUND"
	CodeEventCancelled   = "EVENT_CANCELLED"
	CodeAlreadyAdmitted  = "ALREADY_ADMITTED"
	CodeTooManyAttempts  = "TOO_MANY_ATTEMPTS"
	CodeOfferNotFound    = "OFFER_NOT_FOUND"
	CodeNotOwner         = "NOT_OWNER"
	CodeOfferExpired     = "OFFER_EXPIRED"
	CodeAlreadyCommitted = "ALREADY_COMMITTED"
	CodeNotQueued        = "NOT_QUEUED"
	CodeTicketNotFound   = "TICKET_NOT_FOUND"
	CodeNotRefundable    = "TICKET_NOT_REFUNDABLE"
)

// Order matters: ErrNotOwner wraps ErrOfferNotFound.
var errorTable = []struct {
	sentinel error
	code     string
	message  string
	status   int
}{
	{admissionerrors.ErrEventNotFound, CodeEventNotFound, "Event not found", http.StatusNotFound},
	{admissionerrors.ErrEventCancelled, CodeEventCancelled, "Event has been cancelled", http.StatusGone},
	{admissionerrors.ErrAlreadyAdmitted, CodeAlreadyAdmitted, "Participant is already admitted to this event", http.StatusConflict},
	{admissionerrors.ErrTooManyAttempts, CodeTooManyAttempts, "Too many join attempts, try again later", http.StatusTooManyRequests},
	{admissionerrors.ErrNotOwner, CodeNotOwner, "Offer belongs to another participant", http.StatusForbidden},
	{admissionerrors.ErrOfferNotFound, CodeOfferNotFound, "Offer not found", http.StatusNotFound},
	{admissionerrors.ErrOfferExpired, CodeOfferExpired, "Offer has expired", http.StatusGone},
	{admissionerrors.ErrAlreadyCommitted, CodeAlreadyCommitted, "Offer has already been committed", http.StatusConflict},
	{admissionerrors.ErrNotQueued, CodeNotQueued, "Participant has no entry for this event", http.StatusNotFound},
	{admissionerrors.ErrTicketNotFound, CodeTicketNotFound, "Ticket not found", http.StatusNotFound},
	{admissionerrors.ErrTicketNotRefundable, CodeNotRefundable, "Ticket cannot be refunded", http.StatusConflict},
	{admissionerrors.ErrCapacityChanged, apperrors.CodeConflict, "Event capacity cannot change", http.StatusConflict},
}

// toAppError converts domain errors into API errors, keeping the original
// error reachable through errors.Is.
func (s *admissionService) toAppError(op string, err error) error {
	if err == nil || apperrors.IsAppError(err) {
		return err
	}

	for _, row := range errorTable {
		if errors.Is(err, row.sentinel) {
			return apperrors.Wrap(err, row.code, row.message, row.status)
		}
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperrors.Wrap(err, apperrors.CodeValidation, "Request validation failed", http.StatusUnprocessableEntity).
			WithDetails(verrs.Details())
	}

	switch {
	case errors.Is(err, admissionerrors.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		s.cfg.Log.Warn("Admission operation timed out", "operation", op, "error", err)
		return apperrors.Wrap(err, apperrors.CodeTimeout, "Event is busy, retry shortly", http.StatusGatewayTimeout)
	case errors.Is(err, admissionerrors.ErrInvariantViolation):
		s.cfg.Log.Error("Capacity invariant violated, transaction aborted", "operation", op, "error", err)
		return apperrors.Internal("An unexpected error occurred", err)
	}

	s.cfg.Log.Error("Admission operation failed", "operation", op, "error", err)
	return apperrors.Internal("An unexpected error occurred", err)
}
