/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TIME FORMAT:
  All instants cross the wire as RFC 3339 strings. Money crosses as
  decimal strings, never JSON numbers.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/booking-engine/approval"
	"github.com/warp/booking-engine/billing"
	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// RESOURCES
// =============================================================================

// ResourceDTO represents a bookable resource in API responses.
type ResourceDTO struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Capacity                int    `json:"capacity"`
	IsActive                bool   `json:"is_active"`
	IsClosed                bool   `json:"is_closed"`
	RequiresSafetyInduction bool   `json:"requires_safety_induction"`
	RequiresLabTraining     bool   `json:"requires_lab_training"`
	RequiresRiskAssessment  bool   `json:"requires_risk_assessment"`
}

// CreateResourceRequest is the request to register a resource.
type CreateResourceRequest struct {
	ID                      string `json:"id"`
	Name                    string `json:"name"`
	Capacity                int    `json:"capacity"`
	IsActive                *bool  `json:"is_active,omitempty"` // default true
	IsClosed                bool   `json:"is_closed"`
	RequiresSafetyInduction bool   `json:"requires_safety_induction"`
	RequiresLabTraining     bool   `json:"requires_lab_training"`
	RequiresRiskAssessment  bool   `json:"requires_risk_assessment"`
}

// CreateMaintenanceRequest schedules a maintenance window.
type CreateMaintenanceRequest struct {
	ResourceID    string `json:"resource_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	BlocksBooking *bool  `json:"blocks_booking,omitempty"` // default true
	Description   string `json:"description"`
}

// =============================================================================
// RESERVATIONS
// =============================================================================

// ReservationDTO represents a reservation in API responses.
type ReservationDTO struct {
	ID               string `json:"id"`
	ResourceID       string `json:"resource_id"`
	RequesterID      string `json:"requester_id"`
	RequesterRole    string `json:"requester_role"`
	UserType         string `json:"user_type"`
	Start            string `json:"start"`
	End              string `json:"end"`
	Status           string `json:"status"`
	RecurringGroupID string `json:"recurring_group_id,omitempty"`
	Purpose          string `json:"purpose,omitempty"`
	CreatedAt        string `json:"created_at"`
}

// SubmitReservationRequest proposes a single booking.
type SubmitReservationRequest struct {
	ResourceID    string `json:"resource_id"`
	RequesterID   string `json:"requester_id"`
	RequesterRole string `json:"requester_role"`
	UserType      string `json:"user_type"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Purpose       string `json:"purpose"`
}

// RecurringReservationRequest proposes a recurring series.
type RecurringReservationRequest struct {
	SubmitReservationRequest
	Frequency     string  `json:"frequency"` // daily | weekly | monthly
	Step          int     `json:"step"`
	Count         int     `json:"count,omitempty"`
	Until         *string `json:"until,omitempty"`
	SkipConflicts bool    `json:"skip_conflicts"`
}

// ConflictDTO describes one occupant blocking a candidate interval.
type ConflictDTO struct {
	Kind          string `json:"kind"` // booking | maintenance
	Start         string `json:"start"`
	End           string `json:"end"`
	ReservationID string `json:"reservation_id,omitempty"`
	MaintenanceID string `json:"maintenance_id,omitempty"`
}

// SubmitReservationResponse reports a single-booking outcome. A conflicting
// proposal is a normal response (HTTP 409), not an error payload.
type SubmitReservationResponse struct {
	Accepted    bool            `json:"accepted"`
	Reservation *ReservationDTO `json:"reservation,omitempty"`
	Conflicts   []ConflictDTO   `json:"conflicts,omitempty"`
	Approval    *RequestDTO     `json:"approval,omitempty"`
}

// RecurringReservationResponse reports a series-expansion outcome.
type RecurringReservationResponse struct {
	GroupID   string           `json:"group_id,omitempty"`
	Created   []ReservationDTO `json:"created"`
	Skipped   []string         `json:"skipped,omitempty"` // occurrence starts skipped for conflicts
	Approvals []RequestDTO     `json:"approvals,omitempty"`
}

// CancelSeriesResponse reports how many siblings were cancelled.
type CancelSeriesResponse struct {
	Cancelled int `json:"cancelled"`
}

// =============================================================================
// APPROVAL
// =============================================================================

// RequestDTO represents an approval request in API responses.
type RequestDTO struct {
	ID            string  `json:"id"`
	ReservationID string  `json:"reservation_id"`
	ResourceID    string  `json:"resource_id"`
	RequesterID   string  `json:"requester_id"`
	State         string  `json:"state"`
	RuleID        string  `json:"rule_id,omitempty"`
	RuleType      string  `json:"rule_type,omitempty"`
	AutoApproved  bool    `json:"auto_approved"`
	CurrentLevel  int     `json:"current_level"`
	MissingGates  []string `json:"missing_gates,omitempty"`
	ReviewedBy    string  `json:"reviewed_by,omitempty"`
	ReviewedAt    *string `json:"reviewed_at,omitempty"`
	Notes         string  `json:"notes,omitempty"`
	Version       int     `json:"version"`
	CreatedAt     string  `json:"created_at"`
}

// DecisionRequest carries an approve/reject action.
type DecisionRequest struct {
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes"`
}

// ConfirmPrerequisiteRequest confirms one gate on a request.
type ConfirmPrerequisiteRequest struct {
	Gate    string `json:"gate"` // safety_induction | lab_training | risk_assessment
	ActorID string `json:"actor_id"`
	Notes   string `json:"notes"`
}

// TrainingCompletionRequest is the inbound signal from the training system;
// it fans out to every open request of the requester.
type TrainingCompletionRequest struct {
	Gate        string `json:"gate"`
	RequesterID string `json:"requester_id"`
	CompletedBy string `json:"completed_by"`
	Notes       string `json:"notes"`
}

// TrainingCompletionResponse reports the cascade fan-out count.
type TrainingCompletionResponse struct {
	Confirmed int `json:"confirmed"`
}

// CreateRuleRequest defines an approval rule. Conditions use the same
// tagged-variant JSON shape the engine stores.
type CreateRuleRequest struct {
	ID             string              `json:"id"`
	ResourceID     *string             `json:"resource_id,omitempty"` // null = catch-all
	Type           string              `json:"type"`
	Roles          []string            `json:"roles,omitempty"`
	Priority       int                 `json:"priority"`
	Conditions     approval.Conditions `json:"conditions"`
	FallbackRuleID *string             `json:"fallback_rule_id,omitempty"`
	Approvers      []string            `json:"approvers,omitempty"`
	IsActive       *bool               `json:"is_active,omitempty"` // default true
}

// HistoryEntryDTO is one immutable transition record.
type HistoryEntryDTO struct {
	At        string `json:"at"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	FromState string `json:"from_state"`
	ToState   string `json:"to_state"`
	Notes     string `json:"notes,omitempty"`
}

// =============================================================================
// BILLING
// =============================================================================

// CreateRateRequest registers a billing rate. HourlyRate is a decimal string.
type CreateRateRequest struct {
	ID                   string  `json:"id"`
	ResourceID           string  `json:"resource_id"`
	UserType             string  `json:"user_type"`
	HourlyRate           string  `json:"hourly_rate"`
	ValidFrom            string  `json:"valid_from"`
	ValidUntil           *string `json:"valid_until,omitempty"`
	Priority             int     `json:"priority"`
	MinimumChargeMinutes int     `json:"minimum_charge_minutes"`
	RoundingMinutes      int     `json:"rounding_minutes"`
	IsActive             *bool   `json:"is_active,omitempty"` // default true
}

// CalculateChargeRequest computes a charge for a concluded reservation.
// Discount is either a percentage or a fixed amount, as decimal strings.
type CalculateChargeRequest struct {
	DiscountPercent string `json:"discount_percent,omitempty"`
	DiscountFixed   string `json:"discount_fixed,omitempty"`
	Surcharge       string `json:"surcharge,omitempty"`
}

// RecordDTO represents a billing record. All amounts are decimal strings.
type RecordDTO struct {
	ID              string `json:"id"`
	ReservationID   string `json:"reservation_id"`
	RateID          string `json:"rate_id"`
	HourlyRate      string `json:"hourly_rate"`
	ActualMinutes   int    `json:"actual_minutes"`
	BilledMinutes   int    `json:"billed_minutes"`
	HoursUsed       string `json:"hours_used"`
	TotalAmount     string `json:"total_amount"`
	DiscountAmount  string `json:"discount_amount"`
	SurchargeAmount string `json:"surcharge_amount"`
	FinalAmount     string `json:"final_amount"`
	NeedsReview     bool   `json:"needs_review"`
	IsConfirmed     bool   `json:"is_confirmed"`
	CreatedAt       string `json:"created_at"`
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toResourceDTO(r *scheduling.Resource) ResourceDTO {
	return ResourceDTO{
		ID:                      string(r.ID),
		Name:                    r.Name,
		Capacity:                r.Capacity,
		IsActive:                r.IsActive,
		IsClosed:                r.IsClosed,
		RequiresSafetyInduction: r.RequiresSafetyInduction,
		RequiresLabTraining:     r.RequiresLabTraining,
		RequiresRiskAssessment:  r.RequiresRiskAssessment,
	}
}

func toReservationDTO(r *scheduling.Reservation) ReservationDTO {
	return ReservationDTO{
		ID:               string(r.ID),
		ResourceID:       string(r.ResourceID),
		RequesterID:      r.RequesterID,
		RequesterRole:    string(r.Requester),
		UserType:         string(r.UserType),
		Start:            r.Interval.Start.Format(time.RFC3339),
		End:              r.Interval.End.Format(time.RFC3339),
		Status:           string(r.Status),
		RecurringGroupID: string(r.RecurringGroupID),
		Purpose:          r.Purpose,
		CreatedAt:        r.CreatedAt.Format(time.RFC3339),
	}
}

func toConflictDTOs(conflicts []scheduling.ConflictRecord) []ConflictDTO {
	out := make([]ConflictDTO, 0, len(conflicts))
	for _, c := range conflicts {
		dto := ConflictDTO{
			Kind:  string(c.Kind),
			Start: c.Interval.Start.Format(time.RFC3339),
			End:   c.Interval.End.Format(time.RFC3339),
		}
		if c.Reservation != nil {
			dto.ReservationID = string(c.Reservation.ID)
		}
		if c.Maintenance != nil {
			dto.MaintenanceID = string(c.Maintenance.ID)
		}
		out = append(out, dto)
	}
	return out
}

func toRequestDTO(req *approval.Request) RequestDTO {
	dto := RequestDTO{
		ID:            string(req.ID),
		ReservationID: string(req.ReservationID),
		ResourceID:    string(req.ResourceID),
		RequesterID:   req.RequesterID,
		State:         string(req.State),
		RuleID:        string(req.RuleID),
		RuleType:      string(req.RuleType),
		AutoApproved:  req.AutoApproved,
		CurrentLevel:  req.CurrentLevel,
		ReviewedBy:    req.ReviewedBy,
		Notes:         req.Notes,
		Version:       req.Version,
		CreatedAt:     req.CreatedAt.Format(time.RFC3339),
	}
	for _, g := range req.Prerequisites.Missing(req.Required) {
		dto.MissingGates = append(dto.MissingGates, string(g))
	}
	if req.ReviewedAt != nil {
		s := req.ReviewedAt.Format(time.RFC3339)
		dto.ReviewedAt = &s
	}
	return dto
}

func toHistoryDTOs(entries []approval.HistoryEntry) []HistoryEntryDTO {
	out := make([]HistoryEntryDTO, 0, len(entries))
	for _, e := range entries {
		out = append(out, HistoryEntryDTO{
			At:        e.At.Format(time.RFC3339),
			ActorID:   e.ActorID,
			Action:    e.Action,
			FromState: string(e.FromState),
			ToState:   string(e.ToState),
			Notes:     e.Notes,
		})
	}
	return out
}

func toRecordDTO(r *billing.Record) RecordDTO {
	return RecordDTO{
		ID:              string(r.ID),
		ReservationID:   string(r.ReservationID),
		RateID:          string(r.RateID),
		HourlyRate:      r.HourlyRate.String(),
		ActualMinutes:   r.ActualMinutes,
		BilledMinutes:   r.BilledMinutes,
		HoursUsed:       r.HoursUsed.String(),
		TotalAmount:     r.TotalAmount.String(),
		DiscountAmount:  r.DiscountAmount.String(),
		SurchargeAmount: r.SurchargeAmount.String(),
		FinalAmount:     r.FinalAmount.String(),
		NeedsReview:     r.NeedsReview,
		IsConfirmed:     r.IsConfirmed,
		CreatedAt:       r.CreatedAt.Format(time.RFC3339),
	}
}
