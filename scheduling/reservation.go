/*
reservation.go - Reservation submission lifecycle

PURPOSE:
  Orchestrates the check-then-create path for a single reservation:

  Caller proposes interval ──▶ validate ──▶ lock resource ──▶ re-check
                                                │
                                   conflicts ◀──┴──▶ create (pending)

  The conflict check and the write happen inside one WithResourceLock
  critical section so two concurrent conflict-free checks can never both
  succeed and over-book capacity. A lock-free FindConflicts is available
  for previews; the submission path always re-validates under the lock.

SEE ALSO:
  - conflict.go: The detection query
  - recurrence.go: Series expansion built on the same primitives
*/
package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RESERVATION SERVICE
// =============================================================================

// ReservationService handles reservation submission and cancellation.
type ReservationService struct {
	Store TxStore

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (rs *ReservationService) now() time.Time {
	if rs.Clock != nil {
		return rs.Clock()
	}
	return time.Now()
}

// SubmitParams carries a validated reservation proposal from the
// request/command layer.
type SubmitParams struct {
	ResourceID  ResourceID
	RequesterID string
	Requester   Role
	UserType    UserType
	Interval    Interval
	Purpose     string
}

// SubmitResult reports the outcome of a submission. When Conflicts is
// non-empty the proposal was not accepted and Reservation is nil; a
// conflicting proposal is an expected outcome, not an error.
type SubmitResult struct {
	Reservation *Reservation
	Conflicts   []ConflictRecord
}

// Accepted reports whether a reservation was created.
func (r *SubmitResult) Accepted() bool { return r.Reservation != nil }

// Submit validates the proposal and, if the interval is free, creates a
// pending reservation. The conflict check and the write execute inside a
// single per-resource critical section.
func (rs *ReservationService) Submit(ctx context.Context, p SubmitParams) (*SubmitResult, error) {
	if _, err := NewInterval(p.Interval.Start, p.Interval.End); err != nil {
		return nil, err
	}

	resource, err := rs.Store.GetResource(ctx, p.ResourceID)
	if err != nil {
		return nil, err
	}
	if !resource.Bookable() {
		return nil, ErrResourceUnavailable
	}

	result := &SubmitResult{}
	err = rs.Store.WithResourceLock(ctx, p.ResourceID, func(s Store) error {
		detector := &ConflictDetector{Store: s}
		conflicts, err := detector.FindConflicts(ctx, p.ResourceID, p.Interval, "")
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			result.Conflicts = conflicts
			return nil
		}

		now := rs.now()
		reservation := &Reservation{
			ID:          ReservationID(uuid.NewString()),
			ResourceID:  p.ResourceID,
			RequesterID: p.RequesterID,
			Requester:   p.Requester,
			UserType:    p.UserType,
			Interval:    p.Interval,
			Status:      StatusPending,
			Purpose:     p.Purpose,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.PutReservation(ctx, reservation); err != nil {
			return err
		}
		result.Reservation = reservation
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Cancel transitions a reservation to cancelled. The transition is
// optimistic: it fails with ErrStaleState when the reservation has already
// left its cancellable status.
func (rs *ReservationService) Cancel(ctx context.Context, id ReservationID) error {
	r, err := rs.Store.GetReservation(ctx, id)
	if err != nil {
		return err
	}
	if !r.Status.Cancellable() {
		return &StaleStateError{ReservationID: id, Expected: StatusPending, Actual: r.Status}
	}
	return rs.Store.UpdateReservationStatus(ctx, id, r.Status, StatusCancelled)
}
