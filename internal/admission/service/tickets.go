package service

import (
	"context"
	"errors"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/internal/admission/repository"
	"turnstile/pkg/model"

	"github.com/google/uuid"
)

// Commit turns a live offer into a ticket. A retry for an entry that already
// has a ticket fails with ErrAlreadyCommitted rather than ErrOfferExpired.
func (s *admissionService) Commit(ctx context.Context, entryID, participantID string) (*model.Ticket, error) {
	if err := s.validator.ValidateCommit(&model.CommitRequest{EntryID: entryID, ParticipantID: participantID}); err != nil {
		return nil, s.toAppError("commit", err)
	}

	entry, err := s.store.FindEntry(ctx, entryID)
	if errors.Is(err, admissionerrors.ErrEntryNotFound) {
		return nil, s.toAppError("commit", admissionerrors.ErrOfferNotFound)
	}
	if err != nil {
		return nil, s.toAppError("commit", err)
	}

	var ticket *model.Ticket
	var lapsed *model.WaitingEntry
	err = s.store.WithinEvent(ctx, entry.EventID, func(ctx context.Context, tx repository.Tx) error {
		ticket, lapsed = nil, nil

		current, err := tx.FindEntry(ctx, entryID)
		if errors.Is(err, admissionerrors.ErrEntryNotFound) {
			return admissionerrors.ErrOfferNotFound
		}
		if err != nil {
			return err
		}
		if current.ParticipantID != participantID {
			return admissionerrors.ErrNotOwner
		}

		existing, err := tx.FindTicketByEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if existing != nil {
			return admissionerrors.ErrAlreadyCommitted
		}

		now := s.now()
		if current.State != model.EntryOffered {
			return admissionerrors.ErrOfferExpired
		}
		if current.OfferLapsed(now) {
			lapsed = current
			return admissionerrors.ErrOfferExpired
		}

		ticket = &model.Ticket{
			ID:            uuid.NewString(),
			EventID:       current.EventID,
			ParticipantID: current.ParticipantID,
			EntryID:       current.ID,
			Status:        model.TicketValid,
			IssuedAt:      now,
			UpdatedAt:     now,
		}
		if err := tx.InsertTicket(ctx, ticket); err != nil {
			return err
		}

		current.State = model.EntryCommitted
		current.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, current); err != nil {
			return err
		}

		// The hold becomes a committed seat, so reserved must not change.
		event, err := s.catalog.GetEventCapacity(ctx, current.EventID)
		if err != nil {
			return err
		}
		return s.assertInvariant(ctx, tx, event.TotalCapacity, now)
	})
	if err != nil {
		if lapsed != nil && errors.Is(err, admissionerrors.ErrOfferExpired) {
			s.cfg.Log.Info("Commit after deadline, expiring offer now",
				"event_id", lapsed.EventID,
				"entry_id", entryID,
			)
			s.timers.Schedule(entryID, *lapsed.OfferDeadline)
		}
		return nil, s.toAppError("commit", err)
	}

	s.timers.Cancel(entryID)
	s.notify(ctx, model.Notification{
		Type:          model.NotificationCommitted,
		EventID:       ticket.EventID,
		ParticipantID: ticket.ParticipantID,
		EntryID:       ticket.EntryID,
		TicketID:      ticket.ID,
	})

	s.cfg.Log.Info("Ticket issued",
		"event_id", ticket.EventID,
		"entry_id", entryID,
		"ticket_id", ticket.ID,
	)
	return ticket, nil
}

func (s *admissionService) GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	if err := s.validator.ValidateID("ticket_id", ticketID); err != nil {
		return nil, s.toAppError("get_ticket", err)
	}

	ticket, err := s.store.FindTicket(ctx, ticketID)
	if err != nil {
		return nil, s.toAppError("get_ticket", err)
	}
	return ticket, nil
}

// RefundTicket refunds a valid ticket. Whether the seat goes back to the
// queue is a policy decision controlled by RefundReopensCapacity.
func (s *admissionService) RefundTicket(ctx context.Context, ticketID string) (*model.Ticket, error) {
	ticket, err := s.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	var refunded *model.Ticket
	var out outcome
	err = s.store.WithinEvent(ctx, ticket.EventID, func(ctx context.Context, tx repository.Tx) error {
		refunded, out = nil, outcome{}

		current, err := tx.FindTicket(ctx, ticketID)
		if err != nil {
			return err
		}
		if current.Status != model.TicketValid {
			return admissionerrors.ErrTicketNotRefundable
		}

		now := s.now()
		current.Status = model.TicketRefunded
		current.UpdatedAt = now
		if err := tx.UpdateTicket(ctx, current); err != nil {
			return err
		}
		refunded = current

		if !s.cfg.RefundReopensCapacity {
			return nil
		}
		event, err := s.openEvent(ctx, current.EventID)
		if err != nil {
			if errors.Is(err, admissionerrors.ErrEventCancelled) || errors.Is(err, admissionerrors.ErrEventNotFound) {
				return nil
			}
			return err
		}
		return s.promote(ctx, tx, event.TotalCapacity, now, &out)
	})
	if err != nil {
		return nil, s.toAppError("refund_ticket", err)
	}

	s.requestRefund(ctx, model.RefundInstruction{
		EventID:       refunded.EventID,
		ParticipantID: refunded.ParticipantID,
		TicketID:      refunded.ID,
		EntryID:       refunded.EntryID,
		Reason:        model.ReasonRefundRequest,
	})
	s.notify(ctx, model.Notification{
		Type:          model.NotificationTicketRefunded,
		EventID:       refunded.EventID,
		ParticipantID: refunded.ParticipantID,
		EntryID:       refunded.EntryID,
		TicketID:      refunded.ID,
		Reason:        model.ReasonRefundRequest,
	})
	s.afterCommit(ctx, out)

	s.cfg.Log.Info("Ticket refunded",
		"event_id", refunded.EventID,
		"ticket_id", refunded.ID,
		"promoted", len(out.offered),
	)
	return refunded, nil
}
