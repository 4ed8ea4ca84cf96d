/*
workflow.go - The approval state machine

PURPOSE:
  Orchestrates the lifecycle of an approval request:

  Submit ──▶ resolve rule ──▶ auto-approve / auto-reject / pending
                                  │
          Approve/Reject actions ◀┘  (tiered levels, quota recheck,
                                      prerequisite gating)
          Timeout sweep: pending requests past the threshold time out.

PREREQUISITE GATING:
  Orthogonal to rule type. A terminal transition to approved is only
  permitted once every gate the resource requires is confirmed. An
  approval action attempted with missing gates fails with
  PrerequisiteNotMetError naming them - it never silently downgrades.
  When an auto rule fires before gates are complete, the submission stays
  pending and the blocked auto-approval is recorded in history.

SIDE EFFECTS PER TRANSITION:
  1. Stamp ReviewedBy/ReviewedAt
  2. Append an immutable history entry
  3. Mirror the status onto the reservation row
  4. Emit a domain event for the notification collaborator

SEE ALSO:
  - rules.go: Resolution order and rule application
  - store.go: Optimistic UpdateRequest contract
*/
package approval

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/warp/booking-engine/scheduling"
)

// Config carries workflow knobs as an explicit struct; the engine reads no
// ambient global state.
type Config struct {
	// PendingTimeout is how long a request may sit pending before the
	// sweep transitions it to timed_out.
	PendingTimeout time.Duration
}

// DefaultConfig times pending requests out after seven days.
func DefaultConfig() Config {
	return Config{PendingTimeout: 7 * 24 * time.Hour}
}

// Workflow is the approval state machine.
type Workflow struct {
	Store        Store
	Reservations ReservationStatusStore
	Events       Sink
	Config       Config

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (w *Workflow) now() time.Time {
	if w.Clock != nil {
		return w.Clock()
	}
	return time.Now()
}

func (w *Workflow) emit(ctx context.Context, e Event) {
	if w.Events != nil {
		w.Events.Emit(ctx, e)
	}
}

// =============================================================================
// SUBMISSION
// =============================================================================

// Submit enters a reservation into the approval workflow. The returned
// request reflects the immediate disposition: auto rules may approve it on
// the spot, quota rules may reject it, everything else leaves it pending.
//
// When no rule matches at all the request is persisted pending, unbound,
// and ErrRuleResolutionExhausted is returned alongside it so an operator
// can intervene.
func (w *Workflow) Submit(ctx context.Context, reservation *scheduling.Reservation, resource *scheduling.Resource) (*Request, error) {
	now := w.now()
	req := &Request{
		ID:            RequestID(uuid.NewString()),
		ReservationID: reservation.ID,
		ResourceID:    reservation.ResourceID,
		RequesterID:   reservation.RequesterID,
		Requester:     reservation.Requester,
		Interval:      reservation.Interval,
		State:         StatePending,
		Required:      RequirementsFor(resource),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res, resolveErr := w.resolve(ctx, req)
	if resolveErr != nil && resolveErr != ErrRuleResolutionExhausted {
		return nil, resolveErr
	}
	if res != nil && res.rule != nil {
		req.RuleID = res.rule.ID
		req.RuleType = res.rule.Type
	}

	if err := w.Store.PutRequest(ctx, req); err != nil {
		return nil, err
	}
	w.appendHistory(ctx, req, "system", "submitted", StatePending, StatePending, "")

	if resolveErr == ErrRuleResolutionExhausted {
		return req, ErrRuleResolutionExhausted
	}

	switch res.disposition {
	case dispositionApprove:
		if missing := req.Prerequisites.Missing(req.Required); len(missing) > 0 {
			// Auto approval cannot cross the prerequisite gate; the request
			// waits for confirmations instead of being approved incomplete.
			w.appendHistory(ctx, req, "system", "auto_approval_blocked", StatePending, StatePending,
				(&PrerequisiteNotMetError{RequestID: req.ID, Missing: missing}).Error())
			return req, nil
		}
		req.AutoApproved = true
		if err := w.finalize(ctx, req, "system", res.reason, StateApproved); err != nil {
			return nil, err
		}
		return req, nil

	case dispositionReject:
		if err := w.finalize(ctx, req, "system", res.reason, StateRejected); err != nil {
			return nil, err
		}
		return req, ErrQuotaExceeded

	default:
		return req, nil
	}
}

// =============================================================================
// APPROVAL ACTIONS
// =============================================================================

// Approve records an approval decision by actorID. When the bound rule
// names approvers, only they may decide. For tiered rules this advances
// one level; the final level's approval (and every non-tiered approval)
// is terminal and subject to prerequisite gating.
func (w *Workflow) Approve(ctx context.Context, id RequestID, actorID, notes string) (*Request, error) {
	req, err := w.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.State != StatePending && req.State != StateFirstLevelApproved {
		return nil, fmt.Errorf("%w: state %s", ErrNotApprovable, req.State)
	}
	if err := w.authorizeActor(ctx, req, actorID); err != nil {
		return nil, err
	}

	// Quota rules re-check the rolling window at decision time: usage may
	// have grown since submission.
	if req.RuleType == RuleQuota {
		rule, err := w.Store.GetRule(ctx, req.RuleID)
		if err != nil {
			return nil, err
		}
		exceeded, detail, err := w.quotaExceeded(ctx, rule.Conditions.Quota, req)
		if err != nil {
			return nil, err
		}
		if exceeded {
			return nil, fmt.Errorf("%w: %s", ErrQuotaExceeded, detail)
		}
	}

	if req.RuleType == RuleTiered {
		return w.approveTiered(ctx, req, actorID, notes)
	}

	if err := w.gate(req); err != nil {
		return nil, err
	}
	req.Notes = notes
	if err := w.finalize(ctx, req, actorID, notes, StateApproved); err != nil {
		return nil, err
	}
	return req, nil
}

// approveTiered advances the request one level. Intermediate approvals
// park the request in first_level_approved; only the last level's approval
// is terminal.
func (w *Workflow) approveTiered(ctx context.Context, req *Request, actorID, notes string) (*Request, error) {
	rule, err := w.Store.GetRule(ctx, req.RuleID)
	if err != nil {
		return nil, err
	}
	levels := rule.Conditions.Tiered.Levels

	next := req.CurrentLevel + 1
	for next < len(levels) && !levels[next].Required {
		next++
	}

	if next >= len(levels) {
		// Final level: terminal transition, gates apply.
		if err := w.gate(req); err != nil {
			return nil, err
		}
		req.Notes = notes
		if err := w.finalize(ctx, req, actorID, notes, StateApproved); err != nil {
			return nil, err
		}
		return req, nil
	}

	from := req.State
	expect := req.Version
	now := w.now()
	req.State = StateFirstLevelApproved
	req.CurrentLevel = next
	req.ReviewedBy = actorID
	req.ReviewedAt = &now
	req.UpdatedAt = now
	if err := w.Store.UpdateRequest(ctx, req, expect); err != nil {
		return nil, err
	}
	w.appendHistory(ctx, req, actorID, "level_approved", from, StateFirstLevelApproved, notes)
	w.mirrorReservation(ctx, req, from, StateFirstLevelApproved)
	w.emit(ctx, w.event(EventFirstLevelApproved, req, actorID, nil))
	return req, nil
}

// Reject records a rejection. A rejection at any tiered level is
// immediately terminal, regardless of level order.
func (w *Workflow) Reject(ctx context.Context, id RequestID, actorID, notes string) (*Request, error) {
	req, err := w.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.State != StatePending && req.State != StateFirstLevelApproved {
		return nil, fmt.Errorf("%w: state %s", ErrNotApprovable, req.State)
	}
	if err := w.authorizeActor(ctx, req, actorID); err != nil {
		return nil, err
	}
	req.Notes = notes
	if err := w.finalize(ctx, req, actorID, notes, StateRejected); err != nil {
		return nil, err
	}
	return req, nil
}

// authorizeActor checks the deciding actor against the bound rule's
// approver set. An empty set leaves the decision unrestricted; unbound
// requests (resolution exhausted) are an operator escape hatch and stay
// unrestricted too. Tiered rules authorize by level role, not by this set.
func (w *Workflow) authorizeActor(ctx context.Context, req *Request, actorID string) error {
	if req.RuleID == "" || req.RuleType == RuleTiered {
		return nil
	}
	rule, err := w.Store.GetRule(ctx, req.RuleID)
	if err != nil {
		return err
	}
	if len(rule.Approvers) == 0 {
		return nil
	}
	for _, a := range rule.Approvers {
		if a == actorID {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrActorNotAuthorized, actorID)
}

// gate enforces prerequisite confirmations before a terminal approval.
func (w *Workflow) gate(req *Request) error {
	if missing := req.Prerequisites.Missing(req.Required); len(missing) > 0 {
		return &PrerequisiteNotMetError{RequestID: req.ID, Missing: missing}
	}
	return nil
}

// finalize performs a terminal transition with its full set of side
// effects: version-checked persist, history entry, reservation mirror,
// domain event.
func (w *Workflow) finalize(ctx context.Context, req *Request, actorID, notes string, to State) error {
	from := req.State
	expect := req.Version
	now := w.now()
	req.State = to
	req.ReviewedBy = actorID
	req.ReviewedAt = &now
	req.UpdatedAt = now

	if err := w.Store.UpdateRequest(ctx, req, expect); err != nil {
		return err
	}

	action := map[State]string{
		StateApproved: "approved",
		StateRejected: "rejected",
		StateTimedOut: "timed_out",
	}[to]
	w.appendHistory(ctx, req, actorID, action, from, to, notes)
	w.mirrorReservation(ctx, req, from, to)

	eventType := map[State]EventType{
		StateApproved: EventRequestApproved,
		StateRejected: EventRequestRejected,
		StateTimedOut: EventRequestTimedOut,
	}[to]
	w.emit(ctx, w.event(eventType, req, actorID, nil))
	return nil
}

// =============================================================================
// PREREQUISITE CONFIRMATION
// =============================================================================

// ConfirmPrerequisite records a gate confirmation. Both the manual path
// and the auto-confirmation cascade call this same operation.
func (w *Workflow) ConfirmPrerequisite(ctx context.Context, id RequestID, gate GateName, actorID, notes string) (*Request, error) {
	req, err := w.Store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.State.Terminal() {
		return nil, fmt.Errorf("%w: state %s", ErrNotApprovable, req.State)
	}

	now := w.now()
	confirmed := Gate{Confirmed: true, ConfirmedBy: actorID, ConfirmedAt: &now, Notes: notes}
	switch gate {
	case GateSafetyInduction:
		req.Prerequisites.SafetyInduction = confirmed
	case GateLabTraining:
		req.Prerequisites.LabTraining = confirmed
	case GateRiskAssessment:
		req.Prerequisites.RiskAssessment = confirmed
	default:
		return nil, fmt.Errorf("unknown prerequisite gate %q", gate)
	}

	expect := req.Version
	req.UpdatedAt = now
	if err := w.Store.UpdateRequest(ctx, req, expect); err != nil {
		return nil, err
	}
	w.appendHistory(ctx, req, actorID, "prerequisite_confirmed", req.State, req.State, string(gate))
	w.emit(ctx, w.event(EventPrerequisiteConfirmed, req, actorID, map[string]string{"gate": string(gate)}))
	return req, nil
}

// =============================================================================
// TIMEOUT SWEEP
// =============================================================================

// SweepTimeouts transitions pending requests older than the configured
// threshold to timed_out. A single failed evaluation is logged and left
// for the next scheduled pass; the request stays pending.
func (w *Workflow) SweepTimeouts(ctx context.Context) (int, error) {
	pending, err := w.Store.ListByState(ctx, StatePending)
	if err != nil {
		return 0, err
	}

	now := w.now()
	timedOut := 0
	for _, req := range pending {
		if now.Sub(req.CreatedAt) < w.Config.PendingTimeout {
			continue
		}
		if err := w.finalize(ctx, req, "system", "pending past timeout threshold", StateTimedOut); err != nil {
			log.Printf("[Approval] timeout sweep: request %s: %v", req.ID, err)
			continue
		}
		timedOut++
	}
	return timedOut, nil
}

// =============================================================================
// QUOTA EVALUATION
// =============================================================================

// quotaExceeded checks the rolling windows anchored at the candidate's
// start: approved hours over the prior 7 days and approved bookings over
// the prior 30 days, both counting the candidate itself.
func (w *Workflow) quotaExceeded(ctx context.Context, qc *QuotaConditions, req *Request) (bool, string, error) {
	anchor := req.Interval.Start

	if qc.WeeklyHoursLimit > 0 {
		used, _, err := w.Store.ApprovedUsage(ctx, req.RequesterID, anchor.AddDate(0, 0, -7), anchor)
		if err != nil {
			return false, "", err
		}
		total := used + req.Interval.Duration()
		if total > time.Duration(qc.WeeklyHoursLimit)*time.Hour {
			return true, fmt.Sprintf("weekly hours limit %d exceeded (%.1fh)", qc.WeeklyHoursLimit, total.Hours()), nil
		}
	}

	if qc.MonthlyBookingsLimit > 0 {
		_, count, err := w.Store.ApprovedUsage(ctx, req.RequesterID, anchor.AddDate(0, 0, -30), anchor)
		if err != nil {
			return false, "", err
		}
		if count+1 > qc.MonthlyBookingsLimit {
			return true, fmt.Sprintf("monthly bookings limit %d exceeded (%d existing)", qc.MonthlyBookingsLimit, count), nil
		}
	}
	return false, "", nil
}

// =============================================================================
// INTERNALS
// =============================================================================

func (w *Workflow) appendHistory(ctx context.Context, req *Request, actorID, action string, from, to State, notes string) {
	entry := HistoryEntry{
		ID:        uuid.NewString(),
		RequestID: req.ID,
		At:        w.now(),
		ActorID:   actorID,
		Action:    action,
		FromState: from,
		ToState:   to,
		Notes:     notes,
	}
	// History is best-effort on the write path but every transition is
	// attempted; failures are logged for the audit trail operator.
	if err := w.Store.AppendHistory(ctx, entry); err != nil {
		log.Printf("[Approval] history append failed for %s: %v", req.ID, err)
	}
}

// mirrorReservation keeps the reservation row's status in step with the
// approval dimension.
func (w *Workflow) mirrorReservation(ctx context.Context, req *Request, from, to State) {
	if w.Reservations == nil {
		return
	}
	fromStatus := reservationStatus(from)
	toStatus := reservationStatus(to)
	if fromStatus == toStatus {
		return
	}
	if err := w.Reservations.UpdateReservationStatus(ctx, req.ReservationID, fromStatus, toStatus); err != nil {
		log.Printf("[Approval] reservation mirror failed for %s: %v", req.ReservationID, err)
	}
}

func reservationStatus(s State) scheduling.ReservationStatus {
	switch s {
	case StateApproved:
		return scheduling.StatusApproved
	case StateRejected:
		return scheduling.StatusRejected
	case StateFirstLevelApproved:
		return scheduling.StatusFirstLevelApproved
	case StateTimedOut:
		return scheduling.StatusTimedOut
	default:
		return scheduling.StatusPending
	}
}

func (w *Workflow) event(t EventType, req *Request, actorID string, detail map[string]string) Event {
	return Event{
		Type:          t,
		RequestID:     req.ID,
		ReservationID: req.ReservationID,
		ResourceID:    req.ResourceID,
		RequesterID:   req.RequesterID,
		ActorID:       actorID,
		At:            w.now(),
		Detail:        detail,
	}
}
