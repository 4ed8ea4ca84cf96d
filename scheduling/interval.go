package scheduling

import (
	"fmt"
	"sort"
	"time"
)

// =============================================================================
// INTERVAL - Half-open time range [Start, End)
// =============================================================================

// Interval is the half-open range [Start, End). A reservation ending exactly
// when another starts does NOT overlap it: adjacency is always allowed.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval validates and builds an interval. Start must not be after End.
// Start == End is permitted: the interval is degenerate (zero duration) and
// by definition overlaps nothing. The source system treats zero-duration
// bookings as conflict-free placeholders; that behavior is preserved here
// pending product-owner confirmation.
func NewInterval(start, end time.Time) (Interval, error) {
	if start.After(end) {
		return Interval{}, ErrInvalidInterval
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps implements the half-open overlap test:
// [s1,e1) and [s2,e2) overlap iff s1 < e2 && s2 < e1.
// The test is symmetric and degenerate intervals never overlap anything.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// IsDegenerate reports whether the interval has zero duration.
func (iv Interval) IsDegenerate() bool {
	return !iv.Start.Before(iv.End)
}

// Contains reports whether t falls within [Start, End).
func (iv Interval) Contains(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Minutes returns the interval length in whole minutes, rounding any
// sub-minute remainder up so partial minutes are never billed as zero.
func (iv Interval) Minutes() int {
	d := iv.Duration()
	mins := int(d / time.Minute)
	if d%time.Minute != 0 {
		mins++
	}
	return mins
}

// Shift returns the interval translated by d, preserving duration.
func (iv Interval) Shift(d time.Duration) Interval {
	return Interval{Start: iv.Start.Add(d), End: iv.End.Add(d)}
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// =============================================================================
// CAPACITY LEDGER - Sweep-line concurrency counter
// =============================================================================

// CapacityLedger counts how many occupants are simultaneously present at any
// instant within a probe window. It is the primitive behind capacity-aware
// conflict detection: a candidate booking conflicts only when some instant
// inside it would exceed the resource capacity.
//
// The ledger records half-open occupant intervals and answers three questions:
//   - PeakWithin: the maximum concurrency over a probe interval
//   - OccupantsAt: which occupants are present at an instant
//   - OccupantsOverCapacity: every occupant present at some instant where
//     admitting one more would exceed a capacity bound
type CapacityLedger struct {
	occupants []ledgerEntry
}

type ledgerEntry struct {
	id       ReservationID
	interval Interval
}

// Add records an occupant interval. Degenerate intervals occupy nothing
// and are ignored.
func (cl *CapacityLedger) Add(id ReservationID, iv Interval) {
	if iv.IsDegenerate() {
		return
	}
	cl.occupants = append(cl.occupants, ledgerEntry{id: id, interval: iv})
}

// PeakWithin returns the maximum number of simultaneous occupants at any
// instant inside the probe window, along with the earliest instant at which
// that maximum is reached.
func (cl *CapacityLedger) PeakWithin(probe Interval) (int, time.Time) {
	if probe.IsDegenerate() {
		return 0, probe.Start
	}

	points := cl.samplePoints(probe)
	peak := 0
	peakAt := probe.Start
	for _, p := range points {
		n := cl.countAt(p)
		if n > peak {
			peak = n
			peakAt = p
		}
	}
	return peak, peakAt
}

// OccupantsOverCapacity returns the ids of every occupant present at some
// instant within the probe window where one more simultaneous occupant
// would exceed capacity. For capacity 1 this is every occupant overlapping
// the probe. Ordering matches OccupantsAt: start time ascending, then id.
func (cl *CapacityLedger) OccupantsOverCapacity(probe Interval, capacity int) []ReservationID {
	if probe.IsDegenerate() {
		return nil
	}

	seen := make(map[ReservationID]bool)
	var blocking []ledgerEntry
	for _, p := range cl.samplePoints(probe) {
		if cl.countAt(p)+1 <= capacity {
			continue
		}
		for _, o := range cl.occupants {
			if o.interval.Contains(p) && !seen[o.id] {
				seen[o.id] = true
				blocking = append(blocking, o)
			}
		}
	}
	sortEntries(blocking)

	ids := make([]ReservationID, len(blocking))
	for i, o := range blocking {
		ids[i] = o.id
	}
	return ids
}

// samplePoints returns the instants where concurrency within the probe can
// change: the probe start plus each occupant start inside the window.
func (cl *CapacityLedger) samplePoints(probe Interval) []time.Time {
	points := []time.Time{probe.Start}
	for _, o := range cl.occupants {
		if probe.Contains(o.interval.Start) {
			points = append(points, o.interval.Start)
		}
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Before(points[j]) })
	return points
}

// OccupantsAt returns the ids of occupants present at instant t,
// in ascending start-time order.
func (cl *CapacityLedger) OccupantsAt(t time.Time) []ReservationID {
	var present []ledgerEntry
	for _, o := range cl.occupants {
		if o.interval.Contains(t) {
			present = append(present, o)
		}
	}
	sortEntries(present)

	ids := make([]ReservationID, len(present))
	for i, o := range present {
		ids[i] = o.id
	}
	return ids
}

func sortEntries(es []ledgerEntry) {
	sort.Slice(es, func(i, j int) bool {
		if es[i].interval.Start.Equal(es[j].interval.Start) {
			return es[i].id < es[j].id
		}
		return es[i].interval.Start.Before(es[j].interval.Start)
	})
}

func (cl *CapacityLedger) countAt(t time.Time) int {
	n := 0
	for _, o := range cl.occupants {
		if o.interval.Contains(t) {
			n++
		}
	}
	return n
}
