package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/booking-engine/api"
	"github.com/warp/booking-engine/approval"
	"github.com/warp/booking-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type env struct {
	router http.Handler
	events *approval.Recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	events := &approval.Recorder{}
	handler := api.NewHandler(store, events)
	return &env{router: api.NewRouter(handler), events: events}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out), "body: %s", rec.Body.String())
	return out
}

func rfc(hour int) string {
	return time.Date(2027, time.March, 1, hour, 0, 0, 0, time.UTC).Format(time.RFC3339)
}

func (e *env) createResource(t *testing.T, id string, capacity int, riskAssessment bool) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/resources", api.CreateResourceRequest{
		ID: id, Name: "Test Instrument", Capacity: capacity,
		RequiresRiskAssessment: riskAssessment,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (e *env) createManualRule(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/rules", api.CreateRuleRequest{
		ID: "manual", Type: "single", Priority: 10, Approvers: []string{"lab-manager"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func submitBody(resourceID string, startHour, endHour int) api.SubmitReservationRequest {
	return api.SubmitReservationRequest{
		ResourceID:    resourceID,
		RequesterID:   "alice",
		RequesterRole: "researcher",
		UserType:      "internal",
		Start:         rfc(startHour),
		End:           rfc(endHour),
		Purpose:       "sample analysis",
	}
}

// =============================================================================
// BOOKING LIFECYCLE
// =============================================================================

func TestSubmitReservation_AcceptedEntersWorkflow(t *testing.T) {
	// GIVEN: A capacity-1 resource governed by a single-approver rule
	// WHEN: Submitting a conflict-free booking
	// THEN: 201 with a pending reservation and a bound approval request

	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	rec := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[api.SubmitReservationResponse](t, rec)
	assert.True(t, resp.Accepted)
	require.NotNil(t, resp.Reservation)
	assert.Equal(t, "pending", resp.Reservation.Status)
	require.NotNil(t, resp.Approval)
	assert.Equal(t, "pending", resp.Approval.State)
	assert.Equal(t, "manual", resp.Approval.RuleID)
}

func TestSubmitReservation_OverlapReturnsConflicts(t *testing.T) {
	// GIVEN: An accepted 10-12 booking on a capacity-1 resource
	// WHEN: Submitting an overlapping 11-13 booking
	// THEN: 409 with the existing occupant listed; nothing is created

	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	first := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12))
	require.Equal(t, http.StatusCreated, first.Code)
	created := decode[api.SubmitReservationResponse](t, first)

	second := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 11, 13))
	require.Equal(t, http.StatusConflict, second.Code, second.Body.String())

	resp := decode[api.SubmitReservationResponse](t, second)
	assert.False(t, resp.Accepted)
	assert.Nil(t, resp.Reservation)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "booking", resp.Conflicts[0].Kind)
	assert.Equal(t, created.Reservation.ID, resp.Conflicts[0].ReservationID)
}

func TestSubmitReservation_AdjacentBookingAccepted(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	first := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12))
	require.Equal(t, http.StatusCreated, first.Code)

	second := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 12, 14))
	assert.Equal(t, http.StatusCreated, second.Code, second.Body.String())
}

func TestPreviewConflicts(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	rec := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12))
	require.Equal(t, http.StatusCreated, rec.Code)

	preview := e.do(t, http.MethodPost, "/api/reservations/preview", submitBody("laser-1", 11, 13))
	require.Equal(t, http.StatusOK, preview.Code)
	resp := decode[map[string]any](t, preview)
	assert.Equal(t, false, resp["fits"])

	clear := e.do(t, http.MethodPost, "/api/reservations/preview", submitBody("laser-1", 14, 16))
	require.Equal(t, http.StatusOK, clear.Code)
	resp = decode[map[string]any](t, clear)
	assert.Equal(t, true, resp["fits"])
}

func TestMaintenanceWindow_BlocksSubmission(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	mw := e.do(t, http.MethodPost, "/api/maintenance", api.CreateMaintenanceRequest{
		ResourceID: "laser-1", Start: rfc(9), End: rfc(13), Description: "recalibration",
	})
	require.Equal(t, http.StatusCreated, mw.Code)

	rec := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12))
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[api.SubmitReservationResponse](t, rec)
	require.Len(t, resp.Conflicts, 1)
	assert.Equal(t, "maintenance", resp.Conflicts[0].Kind)
}

// =============================================================================
// APPROVAL FLOW
// =============================================================================

func TestApproveFlow_EndToEnd(t *testing.T) {
	// GIVEN: A pending booking with its approval request
	// WHEN: The approver approves
	// THEN: Request and reservation both read approved; history has the trail

	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	created := decode[api.SubmitReservationResponse](t,
		e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12)))
	requestID := created.Approval.ID

	pending := e.do(t, http.MethodGet, "/api/requests/pending", nil)
	require.Equal(t, http.StatusOK, pending.Code)
	list := decode[[]api.RequestDTO](t, pending)
	require.Len(t, list, 1)
	assert.Equal(t, requestID, list[0].ID)

	approve := e.do(t, http.MethodPost, "/api/requests/"+requestID+"/approve",
		api.DecisionRequest{ActorID: "lab-manager", Notes: "go ahead"})
	require.Equal(t, http.StatusOK, approve.Code, approve.Body.String())
	decided := decode[api.RequestDTO](t, approve)
	assert.Equal(t, "approved", decided.State)
	assert.Equal(t, "lab-manager", decided.ReviewedBy)

	reservation := decode[api.ReservationDTO](t,
		e.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil))
	assert.Equal(t, "approved", reservation.Status)

	history := decode[[]api.HistoryEntryDTO](t,
		e.do(t, http.MethodGet, "/api/requests/"+requestID+"/history", nil))
	require.Len(t, history, 2)
	assert.Equal(t, "submitted", history[0].Action)
	assert.Equal(t, "approved", history[1].Action)
}

func TestRejectFlow_MirrorsReservation(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	created := decode[api.SubmitReservationResponse](t,
		e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12)))

	reject := e.do(t, http.MethodPost, "/api/requests/"+created.Approval.ID+"/reject",
		api.DecisionRequest{ActorID: "lab-manager", Notes: "no safety plan attached"})
	require.Equal(t, http.StatusOK, reject.Code, reject.Body.String())

	reservation := decode[api.ReservationDTO](t,
		e.do(t, http.MethodGet, "/api/reservations/"+created.Reservation.ID, nil))
	assert.Equal(t, "rejected", reservation.Status)

	// A decided request cannot be re-decided.
	again := e.do(t, http.MethodPost, "/api/requests/"+created.Approval.ID+"/approve",
		api.DecisionRequest{ActorID: "lab-manager"})
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestPrerequisiteGate_BlocksThenUnblocksApproval(t *testing.T) {
	// GIVEN: A resource requiring risk assessment
	// WHEN: Approving before the gate, confirming, then approving again
	// THEN: 422 first, then the approval goes through

	e := newEnv(t)
	e.createResource(t, "laser-1", 1, true)
	e.createManualRule(t)

	created := decode[api.SubmitReservationResponse](t,
		e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12)))
	requestID := created.Approval.ID
	assert.Equal(t, []string{"risk_assessment"}, created.Approval.MissingGates)

	blocked := e.do(t, http.MethodPost, "/api/requests/"+requestID+"/approve",
		api.DecisionRequest{ActorID: "lab-manager"})
	require.Equal(t, http.StatusUnprocessableEntity, blocked.Code, blocked.Body.String())
	assert.Contains(t, decode[api.ErrorResponse](t, blocked).Details, "risk_assessment")

	confirm := e.do(t, http.MethodPost, "/api/requests/"+requestID+"/prerequisites",
		api.ConfirmPrerequisiteRequest{Gate: "risk_assessment", ActorID: "safety-officer", Notes: "form RA-7"})
	require.Equal(t, http.StatusOK, confirm.Code, confirm.Body.String())
	assert.Empty(t, decode[api.RequestDTO](t, confirm).MissingGates)

	approve := e.do(t, http.MethodPost, "/api/requests/"+requestID+"/approve",
		api.DecisionRequest{ActorID: "lab-manager"})
	require.Equal(t, http.StatusOK, approve.Code, approve.Body.String())
	assert.Equal(t, "approved", decode[api.RequestDTO](t, approve).State)
}

func TestTrainingCompletion_CascadesOverOpenRequests(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 2, true)
	e.createManualRule(t)

	for _, hours := range [][2]int{{9, 10}, {14, 15}} {
		rec := e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", hours[0], hours[1]))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec := e.do(t, http.MethodPost, "/api/trainings/completions", api.TrainingCompletionRequest{
		Gate: "risk_assessment", RequesterID: "alice", CompletedBy: "safety-officer",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[api.TrainingCompletionResponse](t, rec)
	assert.Equal(t, 2, resp.Confirmed)
}

// =============================================================================
// RECURRING SERIES
// =============================================================================

func TestRecurringSeries_CreateAndCancel(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	rec := e.do(t, http.MethodPost, "/api/reservations/recurring", api.RecurringReservationRequest{
		SubmitReservationRequest: submitBody("laser-1", 10, 12),
		Frequency:                "weekly",
		Step:                     1,
		Count:                    3,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[api.RecurringReservationResponse](t, rec)
	require.Len(t, resp.Created, 3)
	require.NotEmpty(t, resp.GroupID)
	for _, r := range resp.Created {
		assert.Equal(t, resp.GroupID, r.RecurringGroupID)
	}
	assert.Len(t, resp.Approvals, 3)

	series := e.events.OfType(approval.EventSeriesCreated)
	require.Len(t, series, 1)
	assert.Equal(t, "3", series[0].Detail["created"])

	cancel := e.do(t, http.MethodDelete, "/api/reservations/series/"+resp.GroupID, nil)
	require.Equal(t, http.StatusOK, cancel.Code, cancel.Body.String())
	assert.Equal(t, 3, decode[api.CancelSeriesResponse](t, cancel).Cancelled)
}

func TestRecurringSeries_AbortsOnConflict(t *testing.T) {
	// GIVEN: The second weekly slot already booked
	// WHEN: Expanding without skip_conflicts
	// THEN: 409 reporting the abort point; no partial series persists

	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	blockStart := time.Date(2027, time.March, 8, 10, 0, 0, 0, time.UTC)
	blocker := submitBody("laser-1", 10, 12)
	blocker.Start = blockStart.Format(time.RFC3339)
	blocker.End = blockStart.Add(2 * time.Hour).Format(time.RFC3339)
	require.Equal(t, http.StatusCreated,
		e.do(t, http.MethodPost, "/api/reservations", blocker).Code)

	rec := e.do(t, http.MethodPost, "/api/reservations/recurring", api.RecurringReservationRequest{
		SubmitReservationRequest: submitBody("laser-1", 10, 12),
		Frequency:                "weekly",
		Step:                     1,
		Count:                    3,
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	resp := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), resp["created_before_abort"])
}

func TestRecurringSeries_SkipConflicts(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	blockStart := time.Date(2027, time.March, 8, 10, 0, 0, 0, time.UTC)
	blocker := submitBody("laser-1", 10, 12)
	blocker.Start = blockStart.Format(time.RFC3339)
	blocker.End = blockStart.Add(2 * time.Hour).Format(time.RFC3339)
	require.Equal(t, http.StatusCreated,
		e.do(t, http.MethodPost, "/api/reservations", blocker).Code)

	rec := e.do(t, http.MethodPost, "/api/reservations/recurring", api.RecurringReservationRequest{
		SubmitReservationRequest: submitBody("laser-1", 10, 12),
		Frequency:                "weekly",
		Step:                     1,
		Count:                    3,
		SkipConflicts:            true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[api.RecurringReservationResponse](t, rec)
	assert.Len(t, resp.Created, 2)
	require.Len(t, resp.Skipped, 1)
	assert.Equal(t, blockStart.Format(time.RFC3339), resp.Skipped[0])
}

// =============================================================================
// BILLING
// =============================================================================

func (e *env) createRate(t *testing.T) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/billing/rates", api.CreateRateRequest{
		ID: "rate-1", ResourceID: "laser-1", UserType: "internal",
		HourlyRate: "20", ValidFrom: "2027-01-01T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestChargeFlow_CalculateThenConfirm(t *testing.T) {
	// GIVEN: An approved 2-hour booking and a $20/h rate
	// WHEN: Calculating the charge with a 10% discount, then confirming
	// THEN: $36 final; a second confirmation is refused

	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)
	e.createRate(t)

	created := decode[api.SubmitReservationResponse](t,
		e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12)))
	require.Equal(t, http.StatusOK,
		e.do(t, http.MethodPost, "/api/requests/"+created.Approval.ID+"/approve",
			api.DecisionRequest{ActorID: "lab-manager"}).Code)

	charge := e.do(t, http.MethodPost,
		fmt.Sprintf("/api/reservations/%s/charge", created.Reservation.ID),
		api.CalculateChargeRequest{DiscountPercent: "10"})
	require.Equal(t, http.StatusCreated, charge.Code, charge.Body.String())

	record := decode[api.RecordDTO](t, charge)
	assert.Equal(t, 120, record.ActualMinutes)
	assert.Equal(t, "40", record.TotalAmount)
	assert.Equal(t, "4", record.DiscountAmount)
	assert.Equal(t, "36", record.FinalAmount)
	assert.False(t, record.IsConfirmed)

	confirm := e.do(t, http.MethodPost, "/api/billing/records/"+record.ID+"/confirm", nil)
	require.Equal(t, http.StatusNoContent, confirm.Code)

	reread := decode[api.RecordDTO](t,
		e.do(t, http.MethodGet, "/api/billing/records/"+record.ID, nil))
	assert.True(t, reread.IsConfirmed)

	again := e.do(t, http.MethodPost, "/api/billing/records/"+record.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, again.Code)
}

func TestChargeFlow_NoApplicableRate(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)
	e.createManualRule(t)

	created := decode[api.SubmitReservationResponse](t,
		e.do(t, http.MethodPost, "/api/reservations", submitBody("laser-1", 10, 12)))

	charge := e.do(t, http.MethodPost,
		fmt.Sprintf("/api/reservations/%s/charge", created.Reservation.ID),
		api.CalculateChargeRequest{})
	assert.Equal(t, http.StatusUnprocessableEntity, charge.Code, charge.Body.String())
}

// =============================================================================
// ERROR SURFACE
// =============================================================================

func TestErrorSurface(t *testing.T) {
	e := newEnv(t)
	e.createResource(t, "laser-1", 1, false)

	t.Run("unknown resource is 404", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/reservations", submitBody("ghost", 10, 12))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("inverted interval is 400", func(t *testing.T) {
		body := submitBody("laser-1", 12, 10)
		rec := e.do(t, http.MethodPost, "/api/reservations", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing actor on decision is 400", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/requests/whatever/approve", api.DecisionRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid rule definition is 400", func(t *testing.T) {
		rec := e.do(t, http.MethodPost, "/api/rules", api.CreateRuleRequest{
			ID: "broken", Type: "auto", // auto requires auto conditions
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown request is 404", func(t *testing.T) {
		rec := e.do(t, http.MethodGet, "/api/requests/ghost", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
