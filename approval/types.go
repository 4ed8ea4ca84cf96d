/*
Package approval implements the rule-driven approval workflow that gates
booking requests.

PURPOSE:
  Decides whether a booking/access request is auto-approved, requires a
  single approver, requires tiered (sequential) approvals, is subject to a
  quota check, or is evaluated via declarative conditional logic. Also
  tracks the prerequisite confirmations (safety induction, lab training,
  risk assessment) that must all be satisfied before final approval.

STATE MACHINE:
  pending ──▶ approved | rejected | first_level_approved | timed_out
  first_level_approved ──▶ approved | rejected

  approved/rejected/timed_out are terminal for the approval dimension;
  cancellation is tracked separately on the reservation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Request: The approval request with state, rule binding, prerequisites
  - Rule: An approval rule with tagged-variant conditions per rule type
  - Prerequisites: The three independent confirmation gates
  - HistoryEntry: Immutable audit trail of every transition

DESIGN PRINCIPLES:
  1. Tagged variants: Rule conditions are typed per rule kind and validated
     at rule-creation time, never interpreted from loose maps at evaluation
  2. Optimistic concurrency: Transitions carry an expected version and fail
     with ErrStaleState on concurrent modification
  3. Events out, never sends: Every transition emits a domain event for the
     notification collaborator; this package delivers nothing itself

SEE ALSO:
  - rules.go: Rule resolution order and matching
  - workflow.go: Transitions, gating, timeout sweep
  - conditions.go: Declarative condition trees for conditional rules
*/
package approval

import (
	"time"

	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// IDENTIFIERS AND STATES
// =============================================================================

type RequestID string
type RuleID string

type State string

const (
	StatePending            State = "pending"
	StateFirstLevelApproved State = "first_level_approved"
	StateApproved           State = "approved"
	StateRejected           State = "rejected"
	StateTimedOut           State = "timed_out"
)

// Terminal reports whether the state is final for the approval dimension.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected || s == StateTimedOut
}

// =============================================================================
// PREREQUISITE GATES
// =============================================================================

// GateName identifies a prerequisite gate. The string values are the
// stable vocabulary surfaced in PrerequisiteNotMetError.
type GateName string

const (
	GateSafetyInduction GateName = "safety_induction"
	GateLabTraining     GateName = "lab_training"
	GateRiskAssessment  GateName = "risk_assessment"
)

// Gate is one prerequisite confirmation.
type Gate struct {
	Confirmed   bool
	ConfirmedBy string
	ConfirmedAt *time.Time
	Notes       string
}

// Prerequisites holds the three independent confirmation gates.
type Prerequisites struct {
	SafetyInduction Gate
	LabTraining     Gate
	RiskAssessment  Gate
}

// Requirements snapshots which gates the resource demands. Taken from the
// resource at submission time so later resource edits don't retroactively
// change in-flight requests.
type Requirements struct {
	SafetyInduction bool
	LabTraining     bool
	RiskAssessment  bool
}

// RequirementsFor derives the gate requirements from a resource.
func RequirementsFor(r *scheduling.Resource) Requirements {
	return Requirements{
		SafetyInduction: r.RequiresSafetyInduction,
		LabTraining:     r.RequiresLabTraining,
		RiskAssessment:  r.RequiresRiskAssessment,
	}
}

// Missing returns the names of required gates not yet confirmed, in the
// canonical induction/training/risk order.
func (p Prerequisites) Missing(req Requirements) []GateName {
	var missing []GateName
	if req.SafetyInduction && !p.SafetyInduction.Confirmed {
		missing = append(missing, GateSafetyInduction)
	}
	if req.LabTraining && !p.LabTraining.Confirmed {
		missing = append(missing, GateLabTraining)
	}
	if req.RiskAssessment && !p.RiskAssessment.Confirmed {
		missing = append(missing, GateRiskAssessment)
	}
	return missing
}

// =============================================================================
// REQUEST - An approval request for a reservation
// =============================================================================

type Request struct {
	ID            RequestID
	ReservationID scheduling.ReservationID
	ResourceID    scheduling.ResourceID
	RequesterID   string
	Requester     scheduling.Role
	Interval      scheduling.Interval

	State        State
	RuleID       RuleID // rule bound at submission; empty when resolution exhausted
	RuleType     RuleType
	AutoApproved bool

	// CurrentLevel is the index of the next tiered level awaiting approval.
	CurrentLevel int

	Required      Requirements
	Prerequisites Prerequisites

	ReviewedBy string
	ReviewedAt *time.Time
	Notes      string

	// Version increments on every persisted change; transitions supply the
	// version they read to detect concurrent modification.
	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// RULES - Tagged-variant approval rules
// =============================================================================

type RuleType string

const (
	RuleAuto        RuleType = "auto"
	RuleSingle      RuleType = "single"
	RuleTiered      RuleType = "tiered"
	RuleQuota       RuleType = "quota"
	RuleConditional RuleType = "conditional"
)

// Level is one step of a tiered approval chain.
type Level struct {
	Role     scheduling.Role
	Required bool
}

// AutoConditions bounds automatic approval.
// MaxDurationHours == 0 means no duration bound.
type AutoConditions struct {
	MaxDurationHours int
}

// TieredConditions defines the ordered approval chain.
type TieredConditions struct {
	Levels []Level
}

// QuotaConditions bounds the requester's usage in rolling windows.
// A zero limit disables that dimension.
type QuotaConditions struct {
	WeeklyHoursLimit     int
	MonthlyBookingsLimit int
}

// ConditionalConditions wraps a declarative condition tree.
type ConditionalConditions struct {
	Tree ConditionNode
}

// Conditions is the tagged variant: exactly the member matching the rule
// type is set (auto/tiered/quota/conditional); single rules carry none.
type Conditions struct {
	Auto        *AutoConditions        `json:"auto,omitempty"`
	Tiered      *TieredConditions      `json:"tiered,omitempty"`
	Quota       *QuotaConditions       `json:"quota,omitempty"`
	Conditional *ConditionalConditions `json:"conditional,omitempty"`
}

// Rule is an approval rule. Rules are matched resource-specific before
// catch-all (nil ResourceID), then by ascending Priority.
type Rule struct {
	ID         RuleID
	ResourceID *scheduling.ResourceID // nil = applies to all resources
	Type       RuleType
	Roles      []scheduling.Role // empty = matches every role
	Priority   int               // lower evaluates first
	Conditions Conditions

	// FallbackRuleID is consulted when an auto/conditional rule's
	// conditions are not met.
	FallbackRuleID *RuleID

	// Approvers for single/quota rules; tiered rules approve by level role.
	Approvers []string

	IsActive bool
}

// Validate enforces the tagged-variant invariant at rule-creation time so
// malformed conditions cannot surface later during evaluation.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return ErrInvalidRule
	}
	c := r.Conditions
	switch r.Type {
	case RuleAuto:
		if c.Auto == nil || c.Tiered != nil || c.Quota != nil || c.Conditional != nil {
			return ErrInvalidRule
		}
		if c.Auto.MaxDurationHours < 0 {
			return ErrInvalidRule
		}
	case RuleSingle:
		if c.Auto != nil || c.Tiered != nil || c.Quota != nil || c.Conditional != nil {
			return ErrInvalidRule
		}
	case RuleTiered:
		if c.Tiered == nil || c.Auto != nil || c.Quota != nil || c.Conditional != nil {
			return ErrInvalidRule
		}
		if len(c.Tiered.Levels) < 2 {
			return ErrInvalidRule
		}
	case RuleQuota:
		if c.Quota == nil || c.Auto != nil || c.Tiered != nil || c.Conditional != nil {
			return ErrInvalidRule
		}
		if c.Quota.WeeklyHoursLimit < 0 || c.Quota.MonthlyBookingsLimit < 0 {
			return ErrInvalidRule
		}
		if c.Quota.WeeklyHoursLimit == 0 && c.Quota.MonthlyBookingsLimit == 0 {
			return ErrInvalidRule
		}
	case RuleConditional:
		if c.Conditional == nil || c.Auto != nil || c.Tiered != nil || c.Quota != nil {
			return ErrInvalidRule
		}
		if err := c.Conditional.Tree.Validate(); err != nil {
			return err
		}
	default:
		return ErrInvalidRule
	}
	return nil
}

// Matches reports whether the rule applies to the resource and role.
func (r *Rule) Matches(resourceID scheduling.ResourceID, role scheduling.Role) bool {
	if !r.IsActive {
		return false
	}
	if r.ResourceID != nil && *r.ResourceID != resourceID {
		return false
	}
	if len(r.Roles) == 0 {
		return true
	}
	for _, want := range r.Roles {
		if want == role {
			return true
		}
	}
	return false
}

// =============================================================================
// HISTORY - Immutable transition audit trail
// =============================================================================

type HistoryEntry struct {
	ID        string
	RequestID RequestID
	At        time.Time
	ActorID   string
	Action    string // e.g. "submitted", "approved", "rejected", "prerequisite_confirmed"
	FromState State
	ToState   State
	Notes     string
}
