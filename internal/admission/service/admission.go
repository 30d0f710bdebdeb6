package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/internal/admission/ledger"
	"turnstile/internal/admission/queue"
	"turnstile/internal/admission/repository"
	"turnstile/internal/admission/validator"
	"turnstile/pkg/clock"
	"turnstile/pkg/config"
	"turnstile/pkg/model"
)

type AdmissionService interface {
	Join(ctx context.Context, eventID, participantID string) (*JoinResult, error)
	QueuePosition(ctx context.Context, eventID, participantID string) (*QueueStatus, error)
	Release(ctx context.Context, eventID, entryID, participantID string) error
	Expire(ctx context.Context, entryID string) error
	CancelEvent(ctx context.Context, eventID string) error
	Availability(ctx context.Context, eventID string) (*ledger.Availability, error)
	Commit(ctx context.Context, entryID, participantID string) (*model.Ticket, error)
	GetTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
	RefundTicket(ctx context.Context, ticketID string) (*model.Ticket, error)
}

type EventCatalog interface {
	GetEventCapacity(ctx context.Context, eventID string) (*model.EventCapacity, error)
	MarkCancelled(ctx context.Context, eventID string) error
}

// Timers arms and disarms per-entry offer deadlines.
type Timers interface {
	Schedule(entryID string, deadline time.Time)
	Cancel(entryID string)
}

type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

type RefundRequester interface {
	RequestRefund(ctx context.Context, instruction model.RefundInstruction) error
}

type JoinResult struct {
	EntryID       string     `json:"entry_id"`
	Granted       bool       `json:"granted"`
	Position      int        `json:"position"`
	OfferDeadline *time.Time `json:"offer_deadline,omitempty"`
}

type QueueStatus struct {
	EntryID       string           `json:"entry_id"`
	State         model.EntryState `json:"state"`
	Position      int              `json:"position"`
	OfferDeadline *time.Time       `json:"offer_deadline,omitempty"`
}

type Dependencies struct {
	Store     repository.Store
	Catalog   EventCatalog
	Timers    Timers
	Guard     AttemptGuard
	Notifier  Notifier
	Refunds   RefundRequester
	Validator *validator.AdmissionValidator
	Clock     clock.Clock
}

type admissionService struct {
	store     repository.Store
	catalog   EventCatalog
	timers    Timers
	guard     AttemptGuard
	notifier  Notifier
	refunds   RefundRequester
	validator *validator.AdmissionValidator
	clock     clock.Clock
	cfg       *config.Config
}

func NewAdmissionService(deps Dependencies, cfg *config.Config) AdmissionService {
	if deps.Guard == nil {
		deps.Guard = allowAll{}
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Validator == nil {
		deps.Validator = validator.NewAdmissionValidator(cfg.Log)
	}
	return &admissionService{
		store:     deps.Store,
		catalog:   deps.Catalog,
		timers:    deps.Timers,
		guard:     deps.Guard,
		notifier:  deps.Notifier,
		refunds:   deps.Refunds,
		validator: deps.Validator,
		clock:     deps.Clock,
		cfg:       cfg,
	}
}

// outcome collects what a transaction decided so side effects can run after
// it commits. Transactions may be retried, so it is reset on every attempt.
type outcome struct {
	offered []*model.WaitingEntry
	expired []*model.WaitingEntry
	reason  string
}

func (s *admissionService) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}

func (s *admissionService) Join(ctx context.Context, eventID, participantID string) (*JoinResult, error) {
	if err := s.validator.ValidateJoin(&model.JoinRequest{EventID: eventID, ParticipantID: participantID}); err != nil {
		s.cfg.Log.Warn("Join validation failed", "event_id", eventID, "error", err)
		return nil, s.toAppError("join", err)
	}

	if !s.guard.Allow(attemptKey(eventID, participantID)) {
		s.cfg.Log.Warn("Join attempt rejected",
			"event_id", eventID,
			"participant_id", participantID,
		)
		return nil, s.toAppError("join", admissionerrors.ErrTooManyAttempts)
	}

	var result *JoinResult
	var out outcome
	err := s.store.WithinEvent(ctx, eventID, func(ctx context.Context, tx repository.Tx) error {
		result, out = nil, outcome{}

		event, err := s.openEvent(ctx, eventID)
		if err != nil {
			return err
		}

		now := s.now()
		out.reason = model.ReasonDeadlinePassed
		if err := s.expireLapsed(ctx, tx, now, &out); err != nil {
			return err
		}

		live, err := tx.FindLiveEntry(ctx, participantID)
		if err != nil {
			return err
		}
		if live != nil {
			return admissionerrors.ErrAlreadyAdmitted
		}
		// Capacity freed by a lapsed offer or a refund belongs to the queue
		// head, not to whoever joins next.
		if err := s.promote(ctx, tx, event.TotalCapacity, now, &out); err != nil {
			return err
		}

		availability, err := ledger.Snapshot(ctx, tx, event.TotalCapacity, now)
		if err != nil {
			return err
		}

		if availability.Free > 0 {
			entry, err := queue.NewEntry(ctx, tx, participantID, now)
			if err != nil {
				return err
			}
			s.offer(entry, now)
			if err := tx.InsertEntry(ctx, entry); err != nil {
				return err
			}
			out.offered = append(out.offered, entry)
			result = &JoinResult{EntryID: entry.ID, Granted: true, OfferDeadline: entry.OfferDeadline}
			return s.assertInvariant(ctx, tx, event.TotalCapacity, now)
		}

		entry, err := queue.Enqueue(ctx, tx, participantID, now)
		if err != nil {
			return err
		}
		position, err := queue.PositionOf(ctx, tx, entry)
		if err != nil {
			return err
		}
		result = &JoinResult{EntryID: entry.ID, Position: position}
		return nil
	})
	if err != nil {
		return nil, s.toAppError("join", err)
	}

	s.afterCommit(ctx, out)

	s.cfg.Log.Info("Participant joined",
		"event_id", eventID,
		"participant_id", participantID,
		"entry_id", result.EntryID,
		"granted", result.Granted,
		"position", result.Position,
	)
	return result, nil
}

func (s *admissionService) QueuePosition(ctx context.Context, eventID, participantID string) (*QueueStatus, error) {
	if err := s.validator.ValidateJoin(&model.JoinRequest{EventID: eventID, ParticipantID: participantID}); err != nil {
		return nil, s.toAppError("queue_position", err)
	}

	view := s.store.Event(eventID)
	entry, err := view.FindLatestEntry(ctx, participantID)
	if err != nil {
		return nil, s.toAppError("queue_position", err)
	}

	status := &QueueStatus{EntryID: entry.ID, State: entry.State}
	switch {
	case entry.State == model.EntryOffered && entry.OfferLapsed(s.now()):
		// The timer has not run yet. Report what it is about to do.
		status.State = model.EntryExpired
	case entry.State == model.EntryOffered:
		status.OfferDeadline = entry.OfferDeadline
	case entry.State == model.EntryWaiting:
		position, err := queue.PositionOf(ctx, view, entry)
		if err != nil {
			return nil, s.toAppError("queue_position", err)
		}
		status.Position = position
	}
	return status, nil
}

func (s *admissionService) Release(ctx context.Context, eventID, entryID, participantID string) error {
	req := &model.ReleaseRequest{EventID: eventID, EntryID: entryID, ParticipantID: participantID}
	if err := s.validator.ValidateRelease(req); err != nil {
		return s.toAppError("release", err)
	}

	var out outcome
	err := s.store.WithinEvent(ctx, eventID, func(ctx context.Context, tx repository.Tx) error {
		out = outcome{reason: model.ReasonReleased}

		entry, err := tx.FindEntry(ctx, entryID)
		if errors.Is(err, admissionerrors.ErrEntryNotFound) {
			return admissionerrors.ErrOfferNotFound
		}
		if err != nil {
			return err
		}
		if entry.ParticipantID != participantID {
			return admissionerrors.ErrNotOwner
		}
		if entry.State != model.EntryOffered {
			return admissionerrors.ErrOfferNotFound
		}

		return s.expireAndPromote(ctx, tx, entry, &out)
	})
	if err != nil {
		return s.toAppError("release", err)
	}

	s.afterCommit(ctx, out)
	s.cfg.Log.Info("Offer released",
		"event_id", eventID,
		"entry_id", entryID,
		"promoted", len(out.offered),
	)
	return nil
}

// Expire is the scheduler's entry point. It is safe to call any number of
// times for the same entry.
func (s *admissionService) Expire(ctx context.Context, entryID string) error {
	entry, err := s.store.FindEntry(ctx, entryID)
	if errors.Is(err, admissionerrors.ErrEntryNotFound) {
		s.cfg.Log.Debug("Expire skipped, entry not found", "entry_id", entryID)
		return nil
	}
	if err != nil {
		return err
	}
	if entry.State != model.EntryOffered {
		return nil
	}

	var out outcome
	var rearm *time.Time
	err = s.store.WithinEvent(ctx, entry.EventID, func(ctx context.Context, tx repository.Tx) error {
		out, rearm = outcome{reason: model.ReasonDeadlinePassed}, nil

		current, err := tx.FindEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if current.State != model.EntryOffered {
			return nil
		}
		if !current.OfferLapsed(s.now()) {
			rearm = current.OfferDeadline
			return nil
		}
		return s.expireAndPromote(ctx, tx, current, &out)
	})
	if err != nil {
		return fmt.Errorf("failed to expire entry %s: %w", entryID, err)
	}

	if rearm != nil {
		s.timers.Schedule(entryID, *rearm)
		return nil
	}

	s.afterCommit(ctx, out)
	if len(out.expired) > 0 {
		s.cfg.Log.Info("Offer expired",
			"event_id", entry.EventID,
			"entry_id", entryID,
			"promoted", len(out.offered),
		)
	}
	return nil
}

func (s *admissionService) CancelEvent(ctx context.Context, eventID string) error {
	if err := s.validator.ValidateID("event_id", eventID); err != nil {
		return s.toAppError("cancel_event", err)
	}

	if err := s.catalog.MarkCancelled(ctx, eventID); err != nil {
		return s.toAppError("cancel_event", err)
	}

	var out outcome
	var cancelled []*model.Ticket
	err := s.store.WithinEvent(ctx, eventID, func(ctx context.Context, tx repository.Tx) error {
		out, cancelled = outcome{reason: model.ReasonEventCancelled}, nil
		now := s.now()

		tickets, err := tx.ListTickets(ctx, model.TicketValid, model.TicketUsed)
		if err != nil {
			return err
		}
		for _, ticket := range tickets {
			ticket.Status = model.TicketCancelled
			ticket.UpdatedAt = now
			if err := tx.UpdateTicket(ctx, ticket); err != nil {
				return err
			}
			cancelled = append(cancelled, ticket)
		}

		entries, err := tx.ListEntries(ctx, model.EntryWaiting, model.EntryOffered)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			entry.State = model.EntryExpired
			entry.OfferDeadline = nil
			entry.UpdatedAt = now
			if err := tx.UpdateEntry(ctx, entry); err != nil {
				return err
			}
			out.expired = append(out.expired, entry)
		}
		return nil
	})
	if err != nil {
		return s.toAppError("cancel_event", err)
	}

	s.afterCommit(ctx, out)
	for _, ticket := range cancelled {
		s.requestRefund(ctx, model.RefundInstruction{
			EventID:       ticket.EventID,
			ParticipantID: ticket.ParticipantID,
			TicketID:      ticket.ID,
			EntryID:       ticket.EntryID,
			Reason:        model.ReasonEventCancelled,
		})
		s.notify(ctx, model.Notification{
			Type:          model.NotificationTicketCancelled,
			EventID:       ticket.EventID,
			ParticipantID: ticket.ParticipantID,
			EntryID:       ticket.EntryID,
			TicketID:      ticket.ID,
			Reason:        model.ReasonEventCancelled,
		})
	}

	s.cfg.Log.Info("Event cancelled",
		"event_id", eventID,
		"tickets_cancelled", len(cancelled),
		"entries_expired", len(out.expired),
	)
	return nil
}

func (s *admissionService) Availability(ctx context.Context, eventID string) (*ledger.Availability, error) {
	if err := s.validator.ValidateID("event_id", eventID); err != nil {
		return nil, s.toAppError("availability", err)
	}

	event, err := s.catalog.GetEventCapacity(ctx, eventID)
	if err != nil {
		return nil, s.toAppError("availability", err)
	}

	availability, err := ledger.Snapshot(ctx, s.store.Event(eventID), event.TotalCapacity, s.now())
	if err != nil {
		return nil, s.toAppError("availability", err)
	}
	if event.IsCancelled {
		availability.Free = 0
	}
	return &availability, nil
}

func (s *admissionService) openEvent(ctx context.Context, eventID string) (*model.EventCapacity, error) {
	event, err := s.catalog.GetEventCapacity(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.IsCancelled {
		return nil, admissionerrors.ErrEventCancelled
	}
	return event, nil
}

func (s *admissionService) offer(entry *model.WaitingEntry, now time.Time) {
	deadline := now.Add(s.cfg.OfferTTL)
	entry.State = model.EntryOffered
	entry.OfferDeadline = &deadline
	entry.UpdatedAt = now
}

// expireAndPromote ends entry's offer and hands the freed capacity to the
// head of the queue.
func (s *admissionService) expireAndPromote(ctx context.Context, tx repository.Tx, entry *model.WaitingEntry, out *outcome) error {
	now := s.now()
	entry.State = model.EntryExpired
	entry.UpdatedAt = now
	if err := tx.UpdateEntry(ctx, entry); err != nil {
		return err
	}
	out.expired = append(out.expired, entry)

	event, err := s.catalog.GetEventCapacity(ctx, tx.EventID())
	if errors.Is(err, admissionerrors.ErrEventNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if event.IsCancelled {
		return nil
	}
	return s.promote(ctx, tx, event.TotalCapacity, now, out)
}

// expireLapsed ends offers whose deadline passed before their timer ran.
func (s *admissionService) expireLapsed(ctx context.Context, tx repository.Tx, now time.Time, out *outcome) error {
	offered, err := tx.ListEntries(ctx, model.EntryOffered)
	if err != nil {
		return err
	}
	for _, entry := range offered {
		if !entry.OfferLapsed(now) {
			continue
		}
		entry.State = model.EntryExpired
		entry.UpdatedAt = now
		if err := tx.UpdateEntry(ctx, entry); err != nil {
			return err
		}
		out.expired = append(out.expired, entry)
	}
	return nil
}

// promote offers free capacity to waiting entries strictly in queue order.
func (s *admissionService) promote(ctx context.Context, tx repository.Tx, capacity int, now time.Time, out *outcome) error {
	availability, err := ledger.Snapshot(ctx, tx, capacity, now)
	if err != nil {
		return err
	}

	for free := availability.Free; free > 0; free-- {
		next, err := queue.NextWaiting(ctx, tx)
		if err != nil {
			return err
		}
		if next == nil {
			break
		}
		s.offer(next, now)
		if err := tx.UpdateEntry(ctx, next); err != nil {
			return err
		}
		out.offered = append(out.offered, next)
	}

	return s.assertInvariant(ctx, tx, capacity, now)
}

func (s *admissionService) assertInvariant(ctx context.Context, tx repository.Tx, capacity int, now time.Time) error {
	availability, err := ledger.Snapshot(ctx, tx, capacity, now)
	if err != nil {
		return err
	}
	return ledger.Assert(availability)
}

// afterCommit arms timers and publishes notifications for a committed
// transaction. It never fails: state is already durable.
func (s *admissionService) afterCommit(ctx context.Context, out outcome) {
	for _, entry := range out.expired {
		s.timers.Cancel(entry.ID)
		s.notify(ctx, model.Notification{
			Type:          model.NotificationExpired,
			EventID:       entry.EventID,
			ParticipantID: entry.ParticipantID,
			EntryID:       entry.ID,
			Reason:        out.reason,
		})
	}
	for _, entry := range out.offered {
		s.timers.Schedule(entry.ID, *entry.OfferDeadline)
		s.notify(ctx, model.Notification{
			Type:          model.NotificationOffered,
			EventID:       entry.EventID,
			ParticipantID: entry.ParticipantID,
			EntryID:       entry.ID,
			OfferDeadline: entry.OfferDeadline,
		})
	}
}

func (s *admissionService) notify(ctx context.Context, n model.Notification) {
	if s.notifier == nil {
		return
	}
	n.OccurredAt = s.now()
	s.notifier.Notify(context.WithoutCancel(ctx), n)
}

func (s *admissionService) requestRefund(ctx context.Context, instruction model.RefundInstruction) {
	if s.refunds == nil {
		s.cfg.Log.Warn("No refund requester configured, refund not sent",
			"event_id", instruction.EventID,
			"ticket_id", instruction.TicketID,
		)
		return
	}
	instruction.RequestedAt = s.now()
	if err := s.refunds.RequestRefund(context.WithoutCancel(ctx), instruction); err != nil {
		s.cfg.Log.Error("Failed to request refund",
			"event_id", instruction.EventID,
			"ticket_id", instruction.TicketID,
			"participant_id", instruction.ParticipantID,
			"error", err,
		)
	}
}
