package scheduling_test

import (
	"testing"
	"time"

	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

// at builds a UTC instant on 2026-03-02 (a Monday) at the given hour/minute.
func at(hour, min int) time.Time {
	return time.Date(2026, time.March, 2, hour, min, 0, 0, time.UTC)
}

func span(startHour, endHour int) scheduling.Interval {
	return scheduling.Interval{Start: at(startHour, 0), End: at(endHour, 0)}
}

// =============================================================================
// INTERVAL TESTS
// =============================================================================

func TestInterval_Overlaps_Symmetric(t *testing.T) {
	// GIVEN: Two partially overlapping intervals
	// WHEN: Testing overlap in both directions
	// THEN: Both directions agree

	a := span(10, 12)
	b := span(11, 13)

	if !a.Overlaps(b) || !b.Overlaps(a) {
		t.Errorf("expected %s and %s to overlap symmetrically", a, b)
	}
}

func TestInterval_Adjacency_NeverOverlaps(t *testing.T) {
	// GIVEN: One booking ending exactly when the next starts
	// WHEN: Testing overlap
	// THEN: Half-open semantics: no overlap, in either direction

	first := span(10, 11)
	second := span(11, 12)

	if first.Overlaps(second) {
		t.Errorf("adjacent intervals %s / %s must not overlap", first, second)
	}
	if second.Overlaps(first) {
		t.Errorf("adjacent intervals %s / %s must not overlap (reversed)", second, first)
	}
}

func TestInterval_Degenerate_OverlapsNothing(t *testing.T) {
	// GIVEN: A zero-duration interval inside a normal booking window
	// WHEN: Testing overlap against the surrounding interval
	// THEN: Degenerate intervals occupy no instant and overlap nothing

	point := scheduling.Interval{Start: at(10, 30), End: at(10, 30)}
	window := span(10, 11)

	if !point.IsDegenerate() {
		t.Fatal("expected zero-duration interval to be degenerate")
	}
	if point.Overlaps(window) || window.Overlaps(point) {
		t.Errorf("degenerate interval must not overlap %s", window)
	}
}

func TestNewInterval_StartAfterEnd_Rejected(t *testing.T) {
	_, err := scheduling.NewInterval(at(12, 0), at(10, 0))
	if err != scheduling.ErrInvalidInterval {
		t.Errorf("expected ErrInvalidInterval, got %v", err)
	}
}

func TestNewInterval_StartEqualsEnd_Allowed(t *testing.T) {
	// Zero-duration bookings are permitted (conflict-free placeholders).
	iv, err := scheduling.NewInterval(at(10, 0), at(10, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !iv.IsDegenerate() {
		t.Error("expected degenerate interval")
	}
}

func TestInterval_Minutes_RoundsPartialMinuteUp(t *testing.T) {
	// GIVEN: A booking of 37 minutes and 10 seconds
	// WHEN: Computing billable minutes
	// THEN: The partial minute counts: 38 minutes, never 37

	iv := scheduling.Interval{Start: at(10, 0), End: at(10, 37).Add(10 * time.Second)}
	if got := iv.Minutes(); got != 38 {
		t.Errorf("Minutes() = %d, want 38", got)
	}

	exact := span(10, 11)
	if got := exact.Minutes(); got != 60 {
		t.Errorf("Minutes() = %d, want 60", got)
	}
}

// =============================================================================
// CAPACITY LEDGER TESTS
// =============================================================================

func TestCapacityLedger_PeakWithin_CountsSimultaneousOccupants(t *testing.T) {
	// GIVEN: Two occupants overlapping between 11:00 and 12:00
	// WHEN: Probing 10:00-13:00
	// THEN: Peak is 2, reached at the second occupant's start

	ledger := &scheduling.CapacityLedger{}
	ledger.Add("r1", span(10, 12))
	ledger.Add("r2", span(11, 13))

	peak, peakAt := ledger.PeakWithin(span(10, 13))
	if peak != 2 {
		t.Fatalf("peak = %d, want 2", peak)
	}
	if !peakAt.Equal(at(11, 0)) {
		t.Errorf("peakAt = %v, want %v", peakAt, at(11, 0))
	}
}

func TestCapacityLedger_SequentialOccupants_PeakOne(t *testing.T) {
	// GIVEN: Two back-to-back occupants
	// WHEN: Probing the whole window
	// THEN: Concurrency never exceeds 1

	ledger := &scheduling.CapacityLedger{}
	ledger.Add("r1", span(10, 11))
	ledger.Add("r2", span(11, 12))

	peak, _ := ledger.PeakWithin(span(9, 13))
	if peak != 1 {
		t.Errorf("peak = %d, want 1", peak)
	}
}

func TestCapacityLedger_OccupantsAt_SortedByStartThenID(t *testing.T) {
	ledger := &scheduling.CapacityLedger{}
	ledger.Add("rB", span(10, 13))
	ledger.Add("rA", span(11, 13))
	ledger.Add("rC", span(11, 12))

	got := ledger.OccupantsAt(at(11, 30))
	want := []scheduling.ReservationID{"rB", "rA", "rC"}
	if len(got) != len(want) {
		t.Fatalf("occupants = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("occupants[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
