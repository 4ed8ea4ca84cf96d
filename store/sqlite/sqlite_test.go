package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/approval"
	"github.com/warp/booking-engine/billing"
	"github.com/warp/booking-engine/scheduling"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func at(hour int) time.Time {
	return time.Date(2026, time.March, 2, hour, 0, 0, 0, time.UTC)
}

func span(startHour, endHour int) scheduling.Interval {
	return scheduling.Interval{Start: at(startHour), End: at(endHour)}
}

func testResource() *scheduling.Resource {
	return &scheduling.Resource{
		ID:                     "laser-1",
		Name:                   "Laser Cutter",
		Capacity:               2,
		IsActive:               true,
		RequiresLabTraining:    true,
		RequiresRiskAssessment: true,
	}
}

func testReservation(id string, iv scheduling.Interval) *scheduling.Reservation {
	return &scheduling.Reservation{
		ID:          scheduling.ReservationID(id),
		ResourceID:  "laser-1",
		RequesterID: "alice",
		Requester:   scheduling.RoleResearcher,
		UserType:    scheduling.UserInternal,
		Interval:    iv,
		Status:      scheduling.StatusPending,
		Purpose:     "sample prep",
		CreatedAt:   at(8),
		UpdatedAt:   at(8),
	}
}

// =============================================================================
// RESOURCES
// =============================================================================

func TestResource_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutResource(ctx, testResource()))

	got, err := store.GetResource(ctx, "laser-1")
	require.NoError(t, err)
	assert.Equal(t, "Laser Cutter", got.Name)
	assert.Equal(t, 2, got.Capacity)
	assert.True(t, got.RequiresLabTraining)
	assert.True(t, got.RequiresRiskAssessment)
	assert.False(t, got.RequiresSafetyInduction)
}

func TestResource_NotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.GetResource(context.Background(), "ghost")
	assert.ErrorIs(t, err, scheduling.ErrResourceNotFound)
}

func TestResource_UpsertOverwrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutResource(ctx, testResource()))
	updated := testResource()
	updated.Capacity = 5
	updated.IsClosed = true
	require.NoError(t, store.PutResource(ctx, updated))

	got, err := store.GetResource(ctx, "laser-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.Capacity)
	assert.True(t, got.IsClosed)

	all, err := store.ListResources(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestReservation_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutReservation(ctx, testReservation("res-1", span(10, 12))))

	got, err := store.GetReservation(ctx, "res-1")
	require.NoError(t, err)
	assert.Equal(t, scheduling.ResourceID("laser-1"), got.ResourceID)
	assert.True(t, got.Interval.Start.Equal(at(10)))
	assert.True(t, got.Interval.End.Equal(at(12)))
	assert.Equal(t, scheduling.StatusPending, got.Status)
	assert.Equal(t, "sample prep", got.Purpose)
	assert.Equal(t, time.UTC, got.Interval.Start.Location())
}

func TestListOverlapping_HalfOpenBoundsAndOrdering(t *testing.T) {
	// GIVEN: Bookings at 08-10, 10-12 and 13-15
	// WHEN: Probing 10:00-13:00
	// THEN: Only the 10-12 booking overlaps; adjacency on both edges excluded

	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutReservation(ctx, testReservation("early", span(8, 10))))
	require.NoError(t, store.PutReservation(ctx, testReservation("middle", span(10, 12))))
	require.NoError(t, store.PutReservation(ctx, testReservation("late", span(13, 15))))

	got, err := store.ListOverlapping(ctx, "laser-1", span(10, 13))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scheduling.ReservationID("middle"), got[0].ID)
}

func TestListOverlapping_SortedByStartThenID(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutReservation(ctx, testReservation("b", span(11, 13))))
	require.NoError(t, store.PutReservation(ctx, testReservation("a", span(11, 12))))
	require.NoError(t, store.PutReservation(ctx, testReservation("c", span(9, 12))))

	got, err := store.ListOverlapping(ctx, "laser-1", span(9, 14))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, scheduling.ReservationID("c"), got[0].ID)
	assert.Equal(t, scheduling.ReservationID("a"), got[1].ID)
	assert.Equal(t, scheduling.ReservationID("b"), got[2].ID)
}

func TestListByGroup(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	first := testReservation("occ-1", span(10, 12))
	first.RecurringGroupID = "grp-1"
	second := testReservation("occ-2", scheduling.Interval{
		Start: at(10).AddDate(0, 0, 7), End: at(12).AddDate(0, 0, 7),
	})
	second.RecurringGroupID = "grp-1"
	loner := testReservation("solo", span(14, 15))
	require.NoError(t, store.PutReservation(ctx, first))
	require.NoError(t, store.PutReservation(ctx, second))
	require.NoError(t, store.PutReservation(ctx, loner))

	got, err := store.ListByGroup(ctx, "grp-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, scheduling.ReservationID("occ-1"), got[0].ID)
	assert.Equal(t, scheduling.ReservationID("occ-2"), got[1].ID)
}

func TestUpdateReservationStatus_CompareAndSwap(t *testing.T) {
	// GIVEN: A pending reservation
	// WHEN: Transitioning pending->approved, then pending->cancelled
	// THEN: The first swap succeeds; the second fails stale with the actual status

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutReservation(ctx, testReservation("res-1", span(10, 12))))

	err := store.UpdateReservationStatus(ctx, "res-1", scheduling.StatusPending, scheduling.StatusApproved)
	require.NoError(t, err)

	err = store.UpdateReservationStatus(ctx, "res-1", scheduling.StatusPending, scheduling.StatusCancelled)
	var stale *scheduling.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, scheduling.StatusApproved, stale.Actual)
	assert.True(t, errors.Is(err, scheduling.ErrStaleState))
}

func TestWithResourceLock_RollsBackOnError(t *testing.T) {
	// GIVEN: A critical section that writes a reservation then fails
	// WHEN: The closure returns an error
	// THEN: The transaction rolls back and nothing persists

	store := newStore(t)
	ctx := context.Background()

	boom := errors.New("conflict detected under lock")
	err := store.WithResourceLock(ctx, "laser-1", func(tx scheduling.Store) error {
		if err := tx.PutReservation(ctx, testReservation("doomed", span(10, 12))); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = store.GetReservation(ctx, "doomed")
	assert.ErrorIs(t, err, scheduling.ErrReservationNotFound)
}

func TestWithResourceLock_CommitsOnSuccess(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	err := store.WithResourceLock(ctx, "laser-1", func(tx scheduling.Store) error {
		return tx.PutReservation(ctx, testReservation("kept", span(10, 12)))
	})
	require.NoError(t, err)

	got, err := store.GetReservation(ctx, "kept")
	require.NoError(t, err)
	assert.Equal(t, scheduling.ReservationID("kept"), got.ID)
}

// =============================================================================
// MAINTENANCE WINDOWS
// =============================================================================

func TestListBlockingMaintenance_FiltersNonBlocking(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutMaintenanceWindow(ctx, &scheduling.MaintenanceWindow{
		ID: "mw-blocking", ResourceID: "laser-1", Interval: span(10, 12),
		BlocksBooking: true, Description: "laser recalibration",
	}))
	require.NoError(t, store.PutMaintenanceWindow(ctx, &scheduling.MaintenanceWindow{
		ID: "mw-advisory", ResourceID: "laser-1", Interval: span(10, 12),
		BlocksBooking: false, Description: "filter check",
	}))

	got, err := store.ListBlockingMaintenance(ctx, "laser-1", span(11, 13))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scheduling.MaintenanceID("mw-blocking"), got[0].ID)
	assert.Equal(t, "laser recalibration", got[0].Description)
}

// =============================================================================
// APPROVAL RULES
// =============================================================================

func TestRule_RoundTrip_TaggedConditions(t *testing.T) {
	// GIVEN: A conditional rule with a nested tree, resource binding and fallback
	// WHEN: Persisting and reloading
	// THEN: The JSON variant columns reproduce the full structure

	store := newStore(t)
	ctx := context.Background()

	resourceID := scheduling.ResourceID("laser-1")
	fallback := approval.RuleID("manual-review")
	require.NoError(t, store.PutRule(ctx, &approval.Rule{
		ID: "manual-review", Type: approval.RuleSingle, Priority: 99, IsActive: true,
		Approvers: []string{"lab-manager", "deputy"},
	}))
	require.NoError(t, store.PutRule(ctx, &approval.Rule{
		ID:         "daytime-auto",
		ResourceID: &resourceID,
		Type:       approval.RuleConditional,
		Roles:      []scheduling.Role{scheduling.RoleResearcher, scheduling.RoleStudent},
		Priority:   10,
		Conditions: approval.Conditions{Conditional: &approval.ConditionalConditions{
			Tree: approval.ConditionNode{
				All: []approval.ConditionNode{
					{Leaf: &approval.Condition{Kind: approval.CondTimeOfDay, StartHour: 8, EndHour: 18}},
					{Not: &approval.ConditionNode{
						Leaf: &approval.Condition{Kind: approval.CondMaxConsecutiveDays, MaxConsecutiveDays: 1},
					}},
				},
			},
		}},
		FallbackRuleID: &fallback,
		IsActive:       true,
	}))

	got, err := store.GetRule(ctx, "daytime-auto")
	require.NoError(t, err)
	require.NotNil(t, got.ResourceID)
	assert.Equal(t, resourceID, *got.ResourceID)
	require.NotNil(t, got.FallbackRuleID)
	assert.Equal(t, fallback, *got.FallbackRuleID)
	assert.Equal(t, []scheduling.Role{scheduling.RoleResearcher, scheduling.RoleStudent}, got.Roles)

	require.NotNil(t, got.Conditions.Conditional)
	tree := got.Conditions.Conditional.Tree
	require.Len(t, tree.All, 2)
	require.NotNil(t, tree.All[0].Leaf)
	assert.Equal(t, approval.CondTimeOfDay, tree.All[0].Leaf.Kind)
	assert.Equal(t, 18, tree.All[0].Leaf.EndHour)
	require.NotNil(t, tree.All[1].Not)
	assert.Equal(t, approval.CondMaxConsecutiveDays, tree.All[1].Not.Leaf.Kind)
}

func TestPutRule_RejectsInvalidDefinition(t *testing.T) {
	store := newStore(t)
	err := store.PutRule(context.Background(), &approval.Rule{
		ID: "broken", Type: approval.RuleAuto, // auto without conditions
	})
	assert.ErrorIs(t, err, approval.ErrInvalidRule)
}

func TestListCandidateRules_FiltersAndSorts(t *testing.T) {
	// GIVEN: An inactive rule, a catch-all, a rule for another resource and
	//        a resource-specific rule
	// WHEN: Listing candidates for laser-1
	// THEN: Specific first, then catch-all; other-resource and inactive excluded

	store := newStore(t)
	ctx := context.Background()

	laser := scheduling.ResourceID("laser-1")
	other := scheduling.ResourceID("microscope-1")
	rules := []*approval.Rule{
		{ID: "inactive", Type: approval.RuleSingle, Priority: 1, IsActive: false},
		{ID: "catch-all", Type: approval.RuleSingle, Priority: 5, IsActive: true},
		{ID: "other-resource", ResourceID: &other, Type: approval.RuleSingle, Priority: 1, IsActive: true},
		{ID: "laser-specific", ResourceID: &laser, Type: approval.RuleSingle, Priority: 50, IsActive: true},
	}
	for _, r := range rules {
		require.NoError(t, store.PutRule(ctx, r))
	}

	got, err := store.ListCandidateRules(ctx, laser)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, approval.RuleID("laser-specific"), got[0].ID)
	assert.Equal(t, approval.RuleID("catch-all"), got[1].ID)
}

// =============================================================================
// APPROVAL REQUESTS
// =============================================================================

func testRequest(id string) *approval.Request {
	return &approval.Request{
		ID:            approval.RequestID(id),
		ReservationID: "res-1",
		ResourceID:    "laser-1",
		RequesterID:   "alice",
		Requester:     scheduling.RoleResearcher,
		Interval:      span(10, 12),
		State:         approval.StatePending,
		RuleID:        "manual",
		RuleType:      approval.RuleSingle,
		Required:      approval.Requirements{LabTraining: true},
		Version:       1,
		CreatedAt:     at(8),
		UpdatedAt:     at(8),
	}
}

func TestRequest_RoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRequest(ctx, testRequest("req-1")))

	got, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, approval.StatePending, got.State)
	assert.Equal(t, 1, got.Version)
	assert.True(t, got.Required.LabTraining)
	assert.False(t, got.Prerequisites.LabTraining.Confirmed)
	assert.True(t, got.Interval.Start.Equal(at(10)))
}

func TestUpdateRequest_BumpsVersionAndDetectsStale(t *testing.T) {
	// GIVEN: A version-1 request
	// WHEN: Updating with the expected version, then again with the stale one
	// THEN: First write bumps to 2; the stale write fails with both versions

	store := newStore(t)
	ctx := context.Background()
	require.NoError(t, store.PutRequest(ctx, testRequest("req-1")))

	req, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)

	confirmedAt := at(9)
	req.Prerequisites.LabTraining = approval.Gate{Confirmed: true, ConfirmedBy: "trainer", ConfirmedAt: &confirmedAt}
	req.UpdatedAt = at(9)
	require.NoError(t, store.UpdateRequest(ctx, req, 1))
	assert.Equal(t, 2, req.Version)

	reloaded, err := store.GetRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.Version)
	assert.True(t, reloaded.Prerequisites.LabTraining.Confirmed)
	assert.Equal(t, "trainer", reloaded.Prerequisites.LabTraining.ConfirmedBy)

	err = store.UpdateRequest(ctx, req, 1)
	var stale *approval.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, 1, stale.ExpectedVersion)
	assert.Equal(t, 2, stale.ActualVersion)
}

func TestListByState_And_ListOpenByRequester(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	pending := testRequest("req-pending")
	approved := testRequest("req-approved")
	approved.State = approval.StateApproved
	firstLevel := testRequest("req-first-level")
	firstLevel.State = approval.StateFirstLevelApproved
	other := testRequest("req-bob")
	other.RequesterID = "bob"
	for _, r := range []*approval.Request{pending, approved, firstLevel, other} {
		require.NoError(t, store.PutRequest(ctx, r))
	}

	byState, err := store.ListByState(ctx, approval.StatePending)
	require.NoError(t, err)
	assert.Len(t, byState, 2) // alice's pending + bob's pending

	open, err := store.ListOpenByRequester(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, open, 2)
	for _, r := range open {
		assert.False(t, r.State.Terminal())
		assert.Equal(t, "alice", r.RequesterID)
	}
}

// =============================================================================
// APPROVAL HISTORY
// =============================================================================

func TestHistory_AppendOnlyOrderedByTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	entries := []approval.HistoryEntry{
		{ID: "h1", RequestID: "req-1", At: at(8), ActorID: "system", Action: "submitted",
			FromState: approval.StatePending, ToState: approval.StatePending},
		{ID: "h2", RequestID: "req-1", At: at(9), ActorID: "lab-manager", Action: "approved",
			FromState: approval.StatePending, ToState: approval.StateApproved, Notes: "ok"},
		{ID: "h3", RequestID: "req-other", At: at(8), ActorID: "system", Action: "submitted",
			FromState: approval.StatePending, ToState: approval.StatePending},
	}
	for _, e := range entries {
		require.NoError(t, store.AppendHistory(ctx, e))
	}

	got, err := store.ListHistory(ctx, "req-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "submitted", got[0].Action)
	assert.Equal(t, "approved", got[1].Action)
	assert.Equal(t, "ok", got[1].Notes)
}

// =============================================================================
// USAGE QUERIES
// =============================================================================

func TestApprovedUsage_RollingWindow(t *testing.T) {
	// GIVEN: Two approved requests inside the window, one pending, one outside
	// WHEN: Summing usage over the window
	// THEN: Only the approved in-window bookings count

	store := newStore(t)
	ctx := context.Background()

	inWindow := testRequest("in-1")
	inWindow.State = approval.StateApproved
	inWindow2 := testRequest("in-2")
	inWindow2.State = approval.StateApproved
	inWindow2.Interval = span(14, 15)
	pending := testRequest("still-pending")
	pending.Interval = span(16, 17)
	outside := testRequest("outside")
	outside.State = approval.StateApproved
	outside.Interval = scheduling.Interval{Start: at(10).AddDate(0, 0, -30), End: at(12).AddDate(0, 0, -30)}
	for _, r := range []*approval.Request{inWindow, inWindow2, pending, outside} {
		require.NoError(t, store.PutRequest(ctx, r))
	}

	total, count, err := store.ApprovedUsage(ctx, "alice", at(0), at(23))
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour, total) // 2h + 1h
	assert.Equal(t, 2, count)
}

func TestLastApprovedEnd(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	none, err := store.LastApprovedEnd(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, none)

	early := testRequest("early")
	early.State = approval.StateApproved
	late := testRequest("late")
	late.State = approval.StateApproved
	late.Interval = span(14, 16)
	require.NoError(t, store.PutRequest(ctx, early))
	require.NoError(t, store.PutRequest(ctx, late))

	got, err := store.LastApprovedEnd(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Equal(at(16)))
}

// =============================================================================
// BILLING RATES AND RECORDS
// =============================================================================

func TestRates_DecimalRoundTrip(t *testing.T) {
	// Stored as TEXT: the exact decimal value survives, never a float.
	store := newStore(t)
	ctx := context.Background()

	until := at(0).AddDate(1, 0, 0)
	require.NoError(t, store.PutRate(ctx, &billing.Rate{
		ID: "rate-1", ResourceID: "laser-1", UserType: scheduling.UserInternal,
		HourlyRate: decimal.RequireFromString("19.99"),
		ValidFrom:  at(0), ValidUntil: &until,
		Priority: 3, MinimumChargeMinutes: 30, RoundingMinutes: 15, IsActive: true,
	}))

	rates, err := store.ActiveRates(ctx, "laser-1", scheduling.UserInternal)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	r := rates[0]
	assert.Equal(t, "19.99", r.HourlyRate.String())
	assert.Equal(t, 30, r.MinimumChargeMinutes)
	assert.Equal(t, 15, r.RoundingMinutes)
	require.NotNil(t, r.ValidUntil)
	assert.True(t, r.ValidUntil.Equal(until))
}

func TestActiveRates_ScopedByUserTypeAndActivity(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	base := billing.Rate{
		ResourceID: "laser-1", HourlyRate: decimal.RequireFromString("20"),
		ValidFrom: at(0), IsActive: true,
	}
	internal := base
	internal.ID = "rate-internal"
	internal.UserType = scheduling.UserInternal
	external := base
	external.ID = "rate-external"
	external.UserType = scheduling.UserExternal
	retired := base
	retired.ID = "rate-retired"
	retired.UserType = scheduling.UserInternal
	retired.IsActive = false
	for _, r := range []*billing.Rate{&internal, &external, &retired} {
		require.NoError(t, store.PutRate(ctx, r))
	}

	rates, err := store.ActiveRates(ctx, "laser-1", scheduling.UserInternal)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, billing.RateID("rate-internal"), rates[0].ID)
}

func TestRecord_RoundTripAndConfirm(t *testing.T) {
	// GIVEN: A persisted unconfirmed record
	// WHEN: Confirming once, then again
	// THEN: First confirm sticks; second returns ErrRecordConfirmed

	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.PutRecord(ctx, &billing.Record{
		ID: "rec-1", ReservationID: "res-1", RateID: "rate-1",
		HourlyRate:      decimal.RequireFromString("20"),
		ActualMinutes:   90,
		BilledMinutes:   90,
		HoursUsed:       decimal.RequireFromString("1.5"),
		TotalAmount:     decimal.RequireFromString("30.00"),
		DiscountAmount:  decimal.RequireFromString("3.00"),
		SurchargeAmount: decimal.RequireFromString("0"),
		FinalAmount:     decimal.RequireFromString("27.00"),
		CreatedAt:       at(13),
	}))

	got, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, "27", got.FinalAmount.String())
	assert.True(t, got.FinalAmount.Equal(decimal.RequireFromString("27.00")))
	assert.False(t, got.IsConfirmed)

	require.NoError(t, store.ConfirmRecord(ctx, "rec-1"))
	confirmed, err := store.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, confirmed.IsConfirmed)

	assert.ErrorIs(t, store.ConfirmRecord(ctx, "rec-1"), billing.ErrRecordConfirmed)
}

func TestGetRecord_NotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.GetRecord(context.Background(), "ghost")
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
}
