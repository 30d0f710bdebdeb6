// Package ledger derives an event's capacity figures from persisted
// tickets and offers. Nothing it computes is ever stored.
package ledger

import (
	"context"
	"fmt"
	"time"

	admissionerrors "turnstile/internal/admission/errors"
)

type Availability struct {
	Capacity    int `json:"capacity"`
	Committed   int `json:"committed"`
	ActiveHolds int `json:"active_holds"`
	Reserved    int `json:"reserved"`
	Free        int `json:"free"`
}

// Source supplies the two counts the ledger is built from. Callers that
// gate a mutation must pass the same transaction the mutation runs in.
type Source interface {
	CountCommitted(ctx context.Context) (int, error)
	CountActiveHolds(ctx context.Context, now time.Time) (int, error)
}

func Compute(capacity, committed, activeHolds int) Availability {
	reserved := committed + activeHolds
	return Availability{
		Capacity:    capacity,
		Committed:   committed,
		ActiveHolds: activeHolds,
		Reserved:    reserved,
		Free:        max(0, capacity-reserved),
	}
}

func Snapshot(ctx context.Context, src Source, capacity int, now time.Time) (Availability, error) {
	committed, err := src.CountCommitted(ctx)
	if err != nil {
		return Availability{}, fmt.Errorf("failed to count committed tickets: %w", err)
	}
	holds, err := src.CountActiveHolds(ctx, now)
	if err != nil {
		return Availability{}, fmt.Errorf("failed to count active holds: %w", err)
	}
	return Compute(capacity, committed, holds), nil
}

// Assert fails when more seats are reserved than exist.
func Assert(a Availability) error {
	if a.Reserved > a.Capacity {
		return fmt.Errorf("%w: reserved=%d capacity=%d (committed=%d holds=%d)",
			admissionerrors.ErrInvariantViolation, a.Reserved, a.Capacity, a.Committed, a.ActiveHolds)
	}
	return nil
}
