/*
store.go - Persistence interfaces for the approval workflow

KEY INTERFACES:
  RuleStore:    Approval rule definitions
  RequestStore: Approval requests with optimistic version checks
  HistoryStore: Append-only transition audit trail
  UsageSource:  Rolling-window usage sums for quota rules

HISTORY CONTRACT:
  History is append-only. Every terminal transition is recorded regardless
  of outcome; there are no update or delete operations.
*/
package approval

import (
	"context"
	"time"

	"github.com/warp/booking-engine/scheduling"
)

// RuleStore persists approval rules.
type RuleStore interface {
	// PutRule creates or replaces a rule. Implementations must call
	// Rule.Validate before accepting the row.
	PutRule(ctx context.Context, r *Rule) error

	// GetRule returns the rule or ErrRuleNotFound.
	GetRule(ctx context.Context, id RuleID) (*Rule, error)

	// ListCandidateRules returns active rules that are either specific to
	// the resource or catch-alls, in resolution order: resource-specific
	// before catch-all, then ascending priority, then id.
	ListCandidateRules(ctx context.Context, resourceID scheduling.ResourceID) ([]*Rule, error)
}

// RequestStore persists approval requests.
type RequestStore interface {
	// PutRequest creates a request row at version 1.
	PutRequest(ctx context.Context, r *Request) error

	// GetRequest returns the request or ErrRequestNotFound.
	GetRequest(ctx context.Context, id RequestID) (*Request, error)

	// UpdateRequest persists a modified request iff the stored version
	// still equals expectVersion, then bumps Version. Returns
	// *StaleStateError on mismatch.
	UpdateRequest(ctx context.Context, r *Request, expectVersion int) error

	// ListByState returns requests in the given state, oldest first.
	ListByState(ctx context.Context, s State) ([]*Request, error)

	// ListOpenByRequester returns the requester's non-terminal requests,
	// oldest first. Used by the auto-confirmation cascade.
	ListOpenByRequester(ctx context.Context, requesterID string) ([]*Request, error)
}

// HistoryStore persists the immutable transition trail.
type HistoryStore interface {
	AppendHistory(ctx context.Context, e HistoryEntry) error
	ListHistory(ctx context.Context, id RequestID) ([]HistoryEntry, error)
}

// UsageSource answers rolling-window usage questions for quota rules and
// cooldown conditions.
type UsageSource interface {
	// ApprovedUsage returns the total approved booking duration and the
	// number of approved bookings for the requester in [from, to).
	ApprovedUsage(ctx context.Context, requesterID string, from, to time.Time) (time.Duration, int, error)

	// LastApprovedEnd returns when the requester's most recent approved
	// booking ended, or nil when there is none.
	LastApprovedEnd(ctx context.Context, requesterID string) (*time.Time, error)
}

// ReservationStatusStore is the slice of the scheduling store the workflow
// needs to mirror approval transitions onto the reservation row.
type ReservationStatusStore interface {
	UpdateReservationStatus(ctx context.Context, id scheduling.ReservationID, from, to scheduling.ReservationStatus) error
}

// Store bundles everything a workflow needs from persistence.
type Store interface {
	RuleStore
	RequestStore
	HistoryStore
	UsageSource
}
