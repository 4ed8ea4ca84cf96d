/*
errors.go - Centralized error types for the approval workflow

ERROR CATEGORIES:
  1. Resolution errors - No rule matched, invalid rule definitions
  2. Gating errors - Prerequisite confirmations missing
  3. Concurrency errors - Optimistic transition conflicts

PROPAGATION POLICY:
  Resolution and gating failures always return to the immediate caller;
  a failed timeout-sweep evaluation is logged and retried on the next
  scheduled pass, leaving the request pending.
*/
package approval

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrRuleNotFound is returned when a referenced rule doesn't exist.
	ErrRuleNotFound = errors.New("approval rule not found")

	// ErrInvalidRule is returned when a rule's conditions don't match its
	// declared type. Enforced at rule-creation time.
	ErrInvalidRule = errors.New("invalid approval rule definition")

	// ErrRuleResolutionExhausted is returned when no rule matches a request
	// and no fallback or default exists. Surfaced to a human operator;
	// never silently auto-approved.
	ErrRuleResolutionExhausted = errors.New("no approval rule matched the request")

	// ErrPrerequisiteNotMet is returned when an approval action is attempted
	// while required prerequisite gates remain unconfirmed.
	ErrPrerequisiteNotMet = errors.New("prerequisite not met")

	// ErrStaleState is returned when a transition races a concurrent
	// modification of the same request.
	ErrStaleState = errors.New("stale state: request modified concurrently")

	// ErrNotApprovable is returned when an action targets a request whose
	// state does not permit it (e.g. approving a rejected request).
	ErrNotApprovable = errors.New("request state does not permit this action")

	// ErrQuotaExceeded is returned when a quota rule auto-rejects a request.
	ErrQuotaExceeded = errors.New("usage quota exceeded")

	// ErrActorNotAuthorized is returned when the deciding actor is not in
	// the bound rule's approver set.
	ErrActorNotAuthorized = errors.New("actor not in the rule's approver set")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PrerequisiteNotMetError lists exactly which gates block final approval.
type PrerequisiteNotMetError struct {
	RequestID RequestID
	Missing   []GateName
}

func (e *PrerequisiteNotMetError) Error() string {
	names := make([]string, len(e.Missing))
	for i, g := range e.Missing {
		names[i] = string(g)
	}
	return fmt.Sprintf("request %s: prerequisites not met: %s", e.RequestID, strings.Join(names, ", "))
}

func (e *PrerequisiteNotMetError) Unwrap() error {
	return ErrPrerequisiteNotMet
}

// StaleStateError reports the version/state mismatch behind ErrStaleState.
type StaleStateError struct {
	RequestID       RequestID
	ExpectedVersion int
	ActualVersion   int
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("request %s: expected version %d, found %d", e.RequestID, e.ExpectedVersion, e.ActualVersion)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input
// or a business-rule refusal rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRule) ||
		errors.Is(err, ErrPrerequisiteNotMet) ||
		errors.Is(err, ErrNotApprovable) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrActorNotAuthorized)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) || errors.Is(err, ErrRuleNotFound)
}
