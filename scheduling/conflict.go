/*
conflict.go - Capacity-aware conflict detection

PURPOSE:
  Answers the question "can this interval be booked on this resource?"
  A candidate conflicts only when some instant inside it would push the
  number of simultaneous active reservations over the resource capacity,
  or when it touches a blocking maintenance window.

CAPACITY SEMANTICS:
  capacity == 1 degenerates to classic pairwise exclusion. For capacity N,
  N overlapping reservations are fine and the (N+1)th is rejected, with
  every reservation occupying an over-capacity instant returned as a
  conflict. Blocking maintenance always consumes full capacity.

EDGE CASES:
  - Adjacency ([10,11) then [11,12)) never conflicts.
  - Zero-duration candidates produce no conflicts (preserved source
    behavior; see NewInterval).
  - Only pending/approved reservations occupy capacity; cancelled,
    rejected, completed, and timed-out rows are ignored.
  - excludeID lets a reservation being edited ignore its own occupancy.

SEE ALSO:
  - interval.go: CapacityLedger sweep
  - reservation.go: Submission path that re-checks under the resource lock
*/
package scheduling

import (
	"context"
	"fmt"
	"sort"
)

// =============================================================================
// CONFLICT RECORDS
// =============================================================================

type ConflictKind string

const (
	ConflictBooking     ConflictKind = "booking"
	ConflictMaintenance ConflictKind = "maintenance"
)

// ConflictRecord identifies one existing occupant that blocks a candidate.
// Exactly one of Reservation/Maintenance is set, matching Kind.
type ConflictRecord struct {
	Kind        ConflictKind
	Interval    Interval
	Reservation *Reservation
	Maintenance *MaintenanceWindow
}

func (c ConflictRecord) String() string {
	switch c.Kind {
	case ConflictMaintenance:
		return fmt.Sprintf("maintenance %s %s", c.Maintenance.ID, c.Interval)
	default:
		return fmt.Sprintf("booking %s %s", c.Reservation.ID, c.Interval)
	}
}

// =============================================================================
// CONFLICT DETECTOR
// =============================================================================

// ConflictDetector is a pure query over current scheduling state.
type ConflictDetector struct {
	Store Store
}

// FindConflicts returns every conflict between the candidate interval and
// the resource's existing reservations and maintenance windows, sorted by
// the conflicting interval's start time ascending. An empty result means
// the candidate fits.
//
// excludeID, when non-empty, removes that reservation from consideration
// so an edit does not collide with its own prior occupancy.
func (cd *ConflictDetector) FindConflicts(
	ctx context.Context,
	resourceID ResourceID,
	candidate Interval,
	excludeID ReservationID,
) ([]ConflictRecord, error) {
	if resourceID == "" {
		return nil, ErrInvalidResource
	}
	if candidate.Start.After(candidate.End) {
		return nil, ErrInvalidInterval
	}

	resource, err := cd.Store.GetResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}

	// Zero-duration candidates occupy no instant and conflict with nothing.
	if candidate.IsDegenerate() {
		return nil, nil
	}

	var conflicts []ConflictRecord

	// Blocking maintenance consumes full capacity unconditionally.
	windows, err := cd.Store.ListBlockingMaintenance(ctx, resourceID, candidate)
	if err != nil {
		return nil, err
	}
	for _, w := range windows {
		w := w
		if w.Interval.Overlaps(candidate) {
			conflicts = append(conflicts, ConflictRecord{
				Kind:        ConflictMaintenance,
				Interval:    w.Interval,
				Maintenance: w,
			})
		}
	}

	overlapping, err := cd.Store.ListOverlapping(ctx, resourceID, candidate)
	if err != nil {
		return nil, err
	}

	ledger := &CapacityLedger{}
	byID := make(map[ReservationID]*Reservation)
	for _, r := range overlapping {
		if r.ID == excludeID || !r.OccupiesCapacity() {
			continue
		}
		if !r.Interval.Overlaps(candidate) {
			continue
		}
		ledger.Add(r.ID, r.Interval)
		byID[r.ID] = r
	}

	// The candidate conflicts when some instant inside it would push
	// concurrency over capacity. Every occupant present at such an instant
	// is reported; for capacity 1 that is every overlapping reservation.
	for _, id := range ledger.OccupantsOverCapacity(candidate, resource.Capacity) {
		r := byID[id]
		conflicts = append(conflicts, ConflictRecord{
			Kind:        ConflictBooking,
			Interval:    r.Interval,
			Reservation: r,
		})
	}

	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Interval.Start.Before(conflicts[j].Interval.Start)
	})
	return conflicts, nil
}
