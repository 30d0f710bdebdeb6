package errors

import (
	"errors"
	"fmt"
)

var (
	ErrEventNotFound = errors.New("event not found")

	ErrEventCancelled = errors.New("event is cancelled")

	ErrAlreadyAdmitted = errors.New("participant already has a live entry for this event")

	ErrTooManyAttempts = errors.New("too many join attempts")

	ErrOfferNotFound = errors.New("offer not found")

	// ErrNotOwner wraps ErrOfferNotFound: callers that only distinguish
	// "no usable offer" keep working.
	ErrNotOwner = fmt.Errorf("%w: entry belongs to another participant", ErrOfferNotFound)

	ErrOfferExpired = errors.New("offer expired")

	ErrAlreadyCommitted = errors.New("offer already committed")

	ErrNotQueued = errors.New("participant has no entry for this event")

	ErrEntryNotFound = errors.New("entry not found")

	ErrTicketNotFound = errors.New("ticket not found")

	ErrTicketNotRefundable = errors.New("ticket cannot be refunded in its current status")

	ErrCapacityChanged = errors.New("event capacity cannot change once admission has started")

	// ErrInvariantViolation signals reserved > capacity inside a write. It
	// always aborts the surrounding transaction.
	ErrInvariantViolation = errors.New("capacity invariant violated")

	ErrLockTimeout = errors.New("timed out acquiring event lock")
)
