/*
recurrence.go - Recurring-booking pattern expansion

PURPOSE:
  Expands a base reservation plus a recurrence rule into a concrete,
  ordered series of occurrences, checking each occurrence for conflicts
  under a configurable policy:

    skipConflicts=true   record conflicting dates as skipped, keep going
    skipConflicts=false  all-or-nothing: abort and roll back the series

CALENDAR RULES:
  - daily/weekly: advance by N days / N*7 days, wall-clock preserved
  - monthly: same day-of-month, clamped to the shorter month when the day
    does not exist (Jan 31 + 1 month = Feb 28/29)
  - the sequence is strictly increasing and hard-capped at 365 occurrences
    so a malformed far-future "until" date cannot run away

ATOMICITY:
  The whole expansion runs inside one per-resource critical section, so a
  partially created series is never observable and the abort path rolls
  back every occurrence created in the call.

SEE ALSO:
  - conflict.go: Per-occurrence conflict checks
  - reservation.go: Single-occurrence submission
*/
package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MaxOccurrences caps any expansion to guarantee termination.
const MaxOccurrences = 365

// =============================================================================
// PATTERN - Recurrence rule
// =============================================================================

type Frequency string

const (
	Daily   Frequency = "daily"
	Weekly  Frequency = "weekly"
	Monthly Frequency = "monthly"
)

// Pattern describes how a base interval repeats. Exactly one termination
// bound must be set: Count > 0 or Until non-nil.
type Pattern struct {
	Frequency Frequency
	Step      int // every Step days/weeks/months; minimum 1

	Count int        // total occurrences including the base, when > 0
	Until *time.Time // last admissible occurrence start, when Count == 0
}

// Validate checks the pattern invariants.
func (p Pattern) Validate() error {
	switch p.Frequency {
	case Daily, Weekly, Monthly:
	default:
		return ErrInvalidPattern
	}
	if p.Step < 1 {
		return ErrInvalidPattern
	}
	if p.Count <= 0 && p.Until == nil {
		return ErrInvalidPattern
	}
	if p.Count > 0 && p.Until != nil {
		return ErrInvalidPattern
	}
	return nil
}

// Occurrences generates the ordered occurrence intervals for a base
// interval, bounded by the pattern termination and by MaxOccurrences.
// The base interval itself is occurrence zero.
func (p Pattern) Occurrences(base Interval) ([]Interval, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	limit := MaxOccurrences
	if p.Count > 0 && p.Count < limit {
		limit = p.Count
	}

	duration := base.Duration()
	var out []Interval
	for i := 0; i < limit; i++ {
		start := p.nthStart(base.Start, i)
		if p.Until != nil && start.After(*p.Until) {
			break
		}
		out = append(out, Interval{Start: start, End: start.Add(duration)})
	}
	return out, nil
}

// nthStart advances the base start by i pattern steps.
func (p Pattern) nthStart(base time.Time, i int) time.Time {
	switch p.Frequency {
	case Daily:
		return base.AddDate(0, 0, i*p.Step)
	case Weekly:
		return base.AddDate(0, 0, i*p.Step*7)
	default: // Monthly, calendar-aware with day clamping
		return addMonthsClamped(base, i*p.Step)
	}
}

// addMonthsClamped adds months keeping the base day-of-month, clamped to
// the target month's length. time.AddDate would normalize Jan 31 + 1 month
// to Mar 2/3, which is not the calendar behavior users expect.
func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	firstOfTarget := time.Date(y, m+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysInMonth(firstOfTarget.Year(), firstOfTarget.Month()); d > last {
		d = last
	}
	hh, mm, ss := t.Clock()
	return time.Date(firstOfTarget.Year(), firstOfTarget.Month(), d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// =============================================================================
// EXPANDER - Series creation with per-occurrence conflict policy
// =============================================================================

// ExpandResult reports what an expansion produced: the reservations created
// (tagged with a shared RecurringGroupID) and the occurrence start times
// skipped due to conflicts, so the caller can report "created N, skipped M".
type ExpandResult struct {
	GroupID GroupID
	Created []*Reservation
	Skipped []time.Time
}

// Expander expands recurring patterns into reservation series.
type Expander struct {
	Store TxStore
	Clock func() time.Time
}

func (e *Expander) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Expand creates the series for base+pattern. With skipConflicts set,
// conflicting occurrences are recorded and skipped; otherwise the first
// conflict aborts the call with *SeriesAbortedError and every occurrence
// already created in the call is rolled back.
func (e *Expander) Expand(ctx context.Context, base SubmitParams, pattern Pattern, skipConflicts bool) (*ExpandResult, error) {
	if _, err := NewInterval(base.Interval.Start, base.Interval.End); err != nil {
		return nil, err
	}

	resource, err := e.Store.GetResource(ctx, base.ResourceID)
	if err != nil {
		return nil, err
	}
	if !resource.Bookable() {
		return nil, ErrResourceUnavailable
	}

	occurrences, err := pattern.Occurrences(base.Interval)
	if err != nil {
		return nil, err
	}

	result := &ExpandResult{GroupID: GroupID(uuid.NewString())}
	err = e.Store.WithResourceLock(ctx, base.ResourceID, func(s Store) error {
		detector := &ConflictDetector{Store: s}
		now := e.now()

		for _, occ := range occurrences {
			conflicts, err := detector.FindConflicts(ctx, base.ResourceID, occ, "")
			if err != nil {
				return err
			}
			if len(conflicts) > 0 {
				if skipConflicts {
					result.Skipped = append(result.Skipped, occ.Start)
					continue
				}
				return &SeriesAbortedError{
					At:                 occ.Start,
					CreatedBeforeAbort: len(result.Created),
					Conflicts:          conflicts,
				}
			}

			reservation := &Reservation{
				ID:               ReservationID(uuid.NewString()),
				ResourceID:       base.ResourceID,
				RequesterID:      base.RequesterID,
				Requester:        base.Requester,
				UserType:         base.UserType,
				Interval:         occ,
				Status:           StatusPending,
				RecurringGroupID: result.GroupID,
				Purpose:          base.Purpose,
				CreatedAt:        now,
				UpdatedAt:        now,
			}
			if err := s.PutReservation(ctx, reservation); err != nil {
				return err
			}
			result.Created = append(result.Created, reservation)
		}
		return nil
	})
	if err != nil {
		// Rolled back: nothing from this expansion persists.
		result.Created = nil
		return result, err
	}
	return result, nil
}

// CancelSeries cancels every sibling occurrence sharing the group whose
// status is still cancellable. With futureOnly set, only occurrences
// starting after now are touched. Returns the count cancelled.
func (e *Expander) CancelSeries(ctx context.Context, group GroupID, futureOnly bool) (int, error) {
	siblings, err := e.Store.ListByGroup(ctx, group)
	if err != nil {
		return 0, err
	}

	now := e.now()
	cancelled := 0
	err = e.Store.WithTx(ctx, func(s Store) error {
		for _, r := range siblings {
			if !r.Status.Cancellable() {
				continue
			}
			if futureOnly && !r.Interval.Start.After(now) {
				continue
			}
			if err := s.UpdateReservationStatus(ctx, r.ID, r.Status, StatusCancelled); err != nil {
				return err
			}
			cancelled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cancelled, nil
}
