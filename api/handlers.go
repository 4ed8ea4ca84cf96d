/*
handlers.go - HTTP handlers for the booking engine API

PURPOSE:
  Thin glue between HTTP and the engine packages. Handlers parse DTOs,
  call into scheduling/approval/billing, and map outcomes to status codes.
  No booking, approval, or billing rule lives here.

STATUS CODE CONVENTIONS:
  201  created (reservation, series, rule, rate, record)
  200  query results and action outcomes
  204  cancellation / confirmation with no body
  400  malformed payload or invalid domain input
  404  missing entity
  409  conflicts (normal outcome, carries the conflict list) and stale state
  422  domain refusal: missing prerequisites, quota exceeded, no rate

CONFLICTS ARE DATA:
  A conflicting submission returns 409 with the conflicting occupants in
  the body; it is an expected outcome of the protocol, not an error page.

SEE ALSO:
  - dto.go: Request/response shapes
  - server.go: Route wiring
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/booking-engine/approval"
	"github.com/warp/booking-engine/billing"
	"github.com/warp/booking-engine/scheduling"
)

// Store is the full persistence surface the API needs. *sqlite.Store
// satisfies it; tests compose it from the in-memory stores.
type Store interface {
	scheduling.TxStore
	approval.Store

	PutRate(ctx context.Context, r *billing.Rate) error
	ActiveRates(ctx context.Context, resourceID scheduling.ResourceID, userType scheduling.UserType) ([]*billing.Rate, error)
	PutRecord(ctx context.Context, r *billing.Record) error
	GetRecord(ctx context.Context, id billing.RecordID) (*billing.Record, error)
	ConfirmRecord(ctx context.Context, id billing.RecordID) error
}

// Handler bundles the engine services behind the HTTP surface.
type Handler struct {
	Store        Store
	Reservations *scheduling.ReservationService
	Expander     *scheduling.Expander
	Workflow     *approval.Workflow
	Cascade      *approval.Cascade
	Calculator   *billing.Calculator
	Events       approval.Sink
}

// NewHandler wires the engine services onto one store.
func NewHandler(store Store, events approval.Sink) *Handler {
	workflow := &approval.Workflow{
		Store:        store,
		Reservations: store,
		Events:       events,
		Config:       approval.DefaultConfig(),
	}
	return &Handler{
		Store:        store,
		Reservations: &scheduling.ReservationService{Store: store},
		Expander:     &scheduling.Expander{Store: store},
		Workflow:     workflow,
		Cascade:      &approval.Cascade{Workflow: workflow},
		Calculator:   &billing.Calculator{Rates: store},
		Events:       events,
	}
}

// =============================================================================
// RESOURCE ENDPOINTS
// =============================================================================

// CreateResource registers a bookable resource.
// POST /api/resources
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	resource := &scheduling.Resource{
		ID:                      scheduling.ResourceID(req.ID),
		Name:                    req.Name,
		Capacity:                req.Capacity,
		IsActive:                req.IsActive == nil || *req.IsActive,
		IsClosed:                req.IsClosed,
		RequiresSafetyInduction: req.RequiresSafetyInduction,
		RequiresLabTraining:     req.RequiresLabTraining,
		RequiresRiskAssessment:  req.RequiresRiskAssessment,
	}
	if err := h.Store.PutResource(r.Context(), resource); err != nil {
		writeError(w, statusFor(err), "failed to create resource", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceDTO(resource))
}

// ListResources returns all resources.
// GET /api/resources
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.Store.ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list resources", err)
		return
	}
	out := make([]ResourceDTO, 0, len(resources))
	for _, res := range resources {
		out = append(out, toResourceDTO(res))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetResource returns one resource.
// GET /api/resources/{id}
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := scheduling.ResourceID(chi.URLParam(r, "id"))
	resource, err := h.Store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "resource not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceDTO(resource))
}

// CreateMaintenance schedules a maintenance window.
// POST /api/maintenance
func (h *Handler) CreateMaintenance(w http.ResponseWriter, r *http.Request) {
	var req CreateMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	interval, err := parseInterval(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid maintenance window", err)
		return
	}

	window := &scheduling.MaintenanceWindow{
		ID:            scheduling.MaintenanceID(newID()),
		ResourceID:    scheduling.ResourceID(req.ResourceID),
		Interval:      interval,
		BlocksBooking: req.BlocksBooking == nil || *req.BlocksBooking,
		Description:   req.Description,
	}
	if err := h.Store.PutMaintenanceWindow(r.Context(), window); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create maintenance window", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(window.ID)})
}

// =============================================================================
// RESERVATION ENDPOINTS
// =============================================================================

// SubmitReservation proposes a single booking. An accepted booking enters
// the approval workflow immediately; a conflicting one returns 409 with
// the occupants.
// POST /api/reservations
func (h *Handler) SubmitReservation(w http.ResponseWriter, r *http.Request) {
	var req SubmitReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	params, err := toSubmitParams(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation", err)
		return
	}

	ctx := r.Context()
	result, err := h.Reservations.Submit(ctx, params)
	if err != nil {
		writeError(w, statusFor(err), "failed to submit reservation", err)
		return
	}
	if !result.Accepted() {
		writeJSON(w, http.StatusConflict, SubmitReservationResponse{
			Accepted:  false,
			Conflicts: toConflictDTOs(result.Conflicts),
		})
		return
	}

	resp := SubmitReservationResponse{Accepted: true}
	dto := toReservationDTO(result.Reservation)
	resp.Reservation = &dto

	if approvalDTO, err := h.enterWorkflow(ctx, result.Reservation); err != nil {
		writeError(w, http.StatusInternalServerError, "reservation created but approval submission failed", err)
		return
	} else if approvalDTO != nil {
		resp.Approval = approvalDTO
		resp.Reservation.Status = approvalDTO.reservationStatus(resp.Reservation.Status)
	}
	writeJSON(w, http.StatusCreated, resp)
}

// enterWorkflow submits an accepted reservation into the approval
// workflow. Quota rejection and resolution exhaustion are reflected in the
// returned request, not surfaced as transport failures.
func (h *Handler) enterWorkflow(ctx context.Context, reservation *scheduling.Reservation) (*RequestDTO, error) {
	resource, err := h.Store.GetResource(ctx, reservation.ResourceID)
	if err != nil {
		return nil, err
	}
	req, err := h.Workflow.Submit(ctx, reservation, resource)
	if err != nil && !errors.Is(err, approval.ErrQuotaExceeded) && !errors.Is(err, approval.ErrRuleResolutionExhausted) {
		return nil, err
	}
	dto := toRequestDTO(req)
	return &dto, nil
}

// reservationStatus maps the approval state the workflow reached back onto
// the freshly created reservation DTO, sparing the client a re-read.
func (d *RequestDTO) reservationStatus(current string) string {
	switch approval.State(d.State) {
	case approval.StateApproved:
		return string(scheduling.StatusApproved)
	case approval.StateRejected:
		return string(scheduling.StatusRejected)
	default:
		return current
	}
}

// PreviewConflicts runs the lock-free conflict query without creating
// anything.
// POST /api/reservations/preview
func (h *Handler) PreviewConflicts(w http.ResponseWriter, r *http.Request) {
	var req SubmitReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	interval, err := parseInterval(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid interval", err)
		return
	}

	detector := &scheduling.ConflictDetector{Store: h.Store}
	conflicts, err := detector.FindConflicts(r.Context(), scheduling.ResourceID(req.ResourceID), interval, "")
	if err != nil {
		writeError(w, statusFor(err), "conflict check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fits":      len(conflicts) == 0,
		"conflicts": toConflictDTOs(conflicts),
	})
}

// SubmitRecurring expands a recurring pattern into a reservation series.
// POST /api/reservations/recurring
func (h *Handler) SubmitRecurring(w http.ResponseWriter, r *http.Request) {
	var req RecurringReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	params, err := toSubmitParams(req.SubmitReservationRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reservation", err)
		return
	}
	pattern := scheduling.Pattern{
		Frequency: scheduling.Frequency(req.Frequency),
		Step:      req.Step,
		Count:     req.Count,
	}
	if req.Until != nil {
		until, err := time.Parse(time.RFC3339, *req.Until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until date", err)
			return
		}
		pattern.Until = &until
	}

	ctx := r.Context()
	result, err := h.Expander.Expand(ctx, params, pattern, req.SkipConflicts)
	if err != nil {
		var aborted *scheduling.SeriesAbortedError
		if errors.As(err, &aborted) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":                "series aborted on conflict",
				"aborted_at":           aborted.At.Format(time.RFC3339),
				"created_before_abort": aborted.CreatedBeforeAbort,
				"conflicts":            toConflictDTOs(aborted.Conflicts),
			})
			return
		}
		writeError(w, statusFor(err), "failed to expand series", err)
		return
	}

	resp := RecurringReservationResponse{
		GroupID: string(result.GroupID),
		Created: make([]ReservationDTO, 0, len(result.Created)),
	}
	for _, skipped := range result.Skipped {
		resp.Skipped = append(resp.Skipped, skipped.Format(time.RFC3339))
	}
	for _, created := range result.Created {
		dto := toReservationDTO(created)
		if approvalDTO, err := h.enterWorkflow(ctx, created); err != nil {
			writeError(w, http.StatusInternalServerError, "series created but approval submission failed", err)
			return
		} else if approvalDTO != nil {
			resp.Approvals = append(resp.Approvals, *approvalDTO)
			dto.Status = approvalDTO.reservationStatus(dto.Status)
		}
		resp.Created = append(resp.Created, dto)
	}

	if len(result.Created) > 0 && h.Events != nil {
		h.Events.Emit(ctx, approval.Event{
			Type:          approval.EventSeriesCreated,
			ReservationID: result.Created[0].ID,
			ResourceID:    params.ResourceID,
			RequesterID:   params.RequesterID,
			ActorID:       params.RequesterID,
			At:            time.Now(),
			Detail: map[string]string{
				"group_id": string(result.GroupID),
				"created":  itoa(len(result.Created)),
				"skipped":  itoa(len(result.Skipped)),
			},
		})
	}
	writeJSON(w, http.StatusCreated, resp)
}

// GetReservation returns one reservation.
// GET /api/reservations/{id}
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := scheduling.ReservationID(chi.URLParam(r, "id"))
	reservation, err := h.Store.GetReservation(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "reservation not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTO(reservation))
}

// CancelReservation cancels a single reservation.
// DELETE /api/reservations/{id}
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := scheduling.ReservationID(chi.URLParam(r, "id"))
	if err := h.Reservations.Cancel(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "failed to cancel reservation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelSeries cancels a recurring series, optionally future occurrences
// only (?future_only=true).
// DELETE /api/reservations/series/{groupID}
func (h *Handler) CancelSeries(w http.ResponseWriter, r *http.Request) {
	group := scheduling.GroupID(chi.URLParam(r, "groupID"))
	futureOnly := r.URL.Query().Get("future_only") == "true"

	cancelled, err := h.Expander.CancelSeries(r.Context(), group, futureOnly)
	if err != nil {
		writeError(w, statusFor(err), "failed to cancel series", err)
		return
	}
	writeJSON(w, http.StatusOK, CancelSeriesResponse{Cancelled: cancelled})
}

// =============================================================================
// APPROVAL ENDPOINTS
// =============================================================================

// CreateRule registers an approval rule. Conditions are validated here, at
// creation time, so malformed trees never reach evaluation.
// POST /api/rules
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := &approval.Rule{
		ID:         approval.RuleID(req.ID),
		Type:       approval.RuleType(req.Type),
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Approvers:  req.Approvers,
		IsActive:   req.IsActive == nil || *req.IsActive,
	}
	if req.ResourceID != nil {
		rid := scheduling.ResourceID(*req.ResourceID)
		rule.ResourceID = &rid
	}
	if req.FallbackRuleID != nil {
		fid := approval.RuleID(*req.FallbackRuleID)
		rule.FallbackRuleID = &fid
	}
	for _, role := range req.Roles {
		rule.Roles = append(rule.Roles, scheduling.Role(role))
	}

	if err := h.Store.PutRule(r.Context(), rule); err != nil {
		writeError(w, statusFor(err), "failed to create rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(rule.ID)})
}

// ListPendingRequests returns requests awaiting a decision, oldest first.
// GET /api/requests/pending
func (h *Handler) ListPendingRequests(w http.ResponseWriter, r *http.Request) {
	pending, err := h.Store.ListByState(r.Context(), approval.StatePending)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending requests", err)
		return
	}
	firstLevel, err := h.Store.ListByState(r.Context(), approval.StateFirstLevelApproved)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list pending requests", err)
		return
	}

	out := make([]RequestDTO, 0, len(pending)+len(firstLevel))
	for _, req := range pending {
		out = append(out, toRequestDTO(req))
	}
	for _, req := range firstLevel {
		out = append(out, toRequestDTO(req))
	}
	writeJSON(w, http.StatusOK, out)
}

// GetRequest returns one approval request.
// GET /api/requests/{id}
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := approval.RequestID(chi.URLParam(r, "id"))
	req, err := h.Store.GetRequest(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "request not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ApproveRequest records an approval decision.
// POST /api/requests/{id}/approve
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Workflow.Approve)
}

// RejectRequest records a rejection.
// POST /api/requests/{id}/reject
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.Workflow.Reject)
}

func (h *Handler) decide(w http.ResponseWriter, r *http.Request,
	action func(context.Context, approval.RequestID, string, string) (*approval.Request, error)) {
	id := approval.RequestID(chi.URLParam(r, "id"))
	var req DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.ActorID == "" {
		writeError(w, http.StatusBadRequest, "actor_id is required", nil)
		return
	}

	updated, err := action(r.Context(), id, req.ActorID, req.Notes)
	if err != nil {
		writeError(w, statusFor(err), "decision rejected", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

// ConfirmPrerequisite records one gate confirmation on a request.
// POST /api/requests/{id}/prerequisites
func (h *Handler) ConfirmPrerequisite(w http.ResponseWriter, r *http.Request) {
	id := approval.RequestID(chi.URLParam(r, "id"))
	var req ConfirmPrerequisiteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	updated, err := h.Workflow.ConfirmPrerequisite(r.Context(), id, approval.GateName(req.Gate), req.ActorID, req.Notes)
	if err != nil {
		writeError(w, statusFor(err), "failed to confirm prerequisite", err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(updated))
}

// GetHistory returns the immutable transition trail of a request.
// GET /api/requests/{id}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := approval.RequestID(chi.URLParam(r, "id"))
	entries, err := h.Store.ListHistory(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list history", err)
		return
	}
	writeJSON(w, http.StatusOK, toHistoryDTOs(entries))
}

// TrainingCompletion receives a completion signal from the training system
// and cascades the gate confirmation over the requester's open requests.
// POST /api/trainings/completions
func (h *Handler) TrainingCompletion(w http.ResponseWriter, r *http.Request) {
	var req TrainingCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	confirmed, err := h.Cascade.HandleCompletion(r.Context(), approval.CompletionEvent{
		Gate:        approval.GateName(req.Gate),
		RequesterID: req.RequesterID,
		CompletedBy: req.CompletedBy,
		At:          time.Now(),
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "cascade failed", err)
		return
	}
	writeJSON(w, http.StatusOK, TrainingCompletionResponse{Confirmed: confirmed})
}

// =============================================================================
// BILLING ENDPOINTS
// =============================================================================

// CreateRate registers a billing rate.
// POST /api/billing/rates
func (h *Handler) CreateRate(w http.ResponseWriter, r *http.Request) {
	var req CreateRateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	hourly, err := decimal.NewFromString(req.HourlyRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hourly_rate", err)
		return
	}
	validFrom, err := time.Parse(time.RFC3339, req.ValidFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid valid_from", err)
		return
	}

	rate := &billing.Rate{
		ID:                   billing.RateID(req.ID),
		ResourceID:           scheduling.ResourceID(req.ResourceID),
		UserType:             scheduling.UserType(req.UserType),
		HourlyRate:           hourly,
		ValidFrom:            validFrom,
		Priority:             req.Priority,
		MinimumChargeMinutes: req.MinimumChargeMinutes,
		RoundingMinutes:      req.RoundingMinutes,
		IsActive:             req.IsActive == nil || *req.IsActive,
	}
	if req.ValidUntil != nil {
		until, err := time.Parse(time.RFC3339, *req.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid valid_until", err)
			return
		}
		rate.ValidUntil = &until
	}

	if err := h.Store.PutRate(r.Context(), rate); err != nil {
		writeError(w, statusFor(err), "failed to create rate", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(rate.ID)})
}

// CalculateCharge computes and persists the (unconfirmed) charge record for
// a reservation. The rate is resolved as of the reservation's start date.
// POST /api/reservations/{id}/charge
func (h *Handler) CalculateCharge(w http.ResponseWriter, r *http.Request) {
	id := scheduling.ReservationID(chi.URLParam(r, "id"))
	var req CalculateChargeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	adj, err := toAdjustments(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid adjustments", err)
		return
	}

	ctx := r.Context()
	reservation, err := h.Store.GetReservation(ctx, id)
	if err != nil {
		writeError(w, statusFor(err), "reservation not found", err)
		return
	}

	record, err := h.Calculator.CalculateCharge(ctx, reservation, reservation.Interval.Start, adj)
	if err != nil {
		writeError(w, statusFor(err), "charge calculation failed", err)
		return
	}
	if err := h.Store.PutRecord(ctx, record); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to persist record", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRecordDTO(record))
}

// GetRecord returns one billing record.
// GET /api/billing/records/{id}
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := billing.RecordID(chi.URLParam(r, "id"))
	record, err := h.Store.GetRecord(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), "record not found", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTO(record))
}

// ConfirmRecord marks a billing record confirmed (immutable from then on).
// POST /api/billing/records/{id}/confirm
func (h *Handler) ConfirmRecord(w http.ResponseWriter, r *http.Request) {
	id := billing.RecordID(chi.URLParam(r, "id"))
	if err := h.Store.ConfirmRecord(r.Context(), id); err != nil {
		writeError(w, statusFor(err), "failed to confirm record", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// HELPERS
// =============================================================================

func toSubmitParams(req SubmitReservationRequest) (scheduling.SubmitParams, error) {
	interval, err := parseInterval(req.Start, req.End)
	if err != nil {
		return scheduling.SubmitParams{}, err
	}
	if req.ResourceID == "" || req.RequesterID == "" {
		return scheduling.SubmitParams{}, scheduling.ErrInvalidResource
	}
	return scheduling.SubmitParams{
		ResourceID:  scheduling.ResourceID(req.ResourceID),
		RequesterID: req.RequesterID,
		Requester:   scheduling.Role(req.RequesterRole),
		UserType:    scheduling.UserType(req.UserType),
		Interval:    interval,
		Purpose:     req.Purpose,
	}, nil
}

func parseInterval(start, end string) (scheduling.Interval, error) {
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return scheduling.Interval{}, err
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return scheduling.Interval{}, err
	}
	return scheduling.NewInterval(s, e)
}

func toAdjustments(req CalculateChargeRequest) (billing.Adjustments, error) {
	adj := billing.Adjustments{Surcharge: decimal.Zero}
	if req.DiscountPercent != "" || req.DiscountFixed != "" {
		d := &billing.Discount{Percent: decimal.Zero, Fixed: decimal.Zero}
		var err error
		if req.DiscountPercent != "" {
			if d.Percent, err = decimal.NewFromString(req.DiscountPercent); err != nil {
				return adj, err
			}
		}
		if req.DiscountFixed != "" {
			if d.Fixed, err = decimal.NewFromString(req.DiscountFixed); err != nil {
				return adj, err
			}
		}
		adj.Discount = d
	}
	if req.Surcharge != "" {
		s, err := decimal.NewFromString(req.Surcharge)
		if err != nil {
			return adj, err
		}
		adj.Surcharge = s
	}
	return adj, nil
}

// statusFor maps domain errors onto HTTP status codes using the packages'
// own classification helpers.
func statusFor(err error) int {
	switch {
	case scheduling.IsNotFound(err) || approval.IsNotFound(err) || billing.IsNotFound(err):
		return http.StatusNotFound
	case scheduling.IsRetryable(err) || approval.IsRetryable(err):
		return http.StatusConflict
	case errors.Is(err, approval.ErrPrerequisiteNotMet) || errors.Is(err, approval.ErrQuotaExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, billing.ErrNoApplicableRate):
		return http.StatusUnprocessableEntity
	case errors.Is(err, approval.ErrNotApprovable) || errors.Is(err, billing.ErrRecordConfirmed):
		return http.StatusConflict
	case scheduling.IsClientError(err) || approval.IsClientError(err) || billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func newID() string { return uuid.NewString() }

func itoa(n int) string { return strconv.Itoa(n) }

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
