/*
errors.go - Centralized error types for the scheduling engine

PURPOSE:
  All scheduling error types in one place for consistency and
  discoverability. Collaborating layers wrap these with transport context.

ERROR CATEGORIES:
  1. Validation errors - Malformed intervals, resources, patterns
  2. Availability errors - Resource closed/inactive
  3. Expansion errors - Recurring-series aborts

NOTE:
  "There is a conflict" is an expected outcome, not a failure. Conflicts
  are returned as data ([]ConflictRecord), never as errors.

SEE ALSO:
  - conflict.go: Returns conflicts as data
  - recurrence.go: Uses SeriesAbortedError
*/
package scheduling

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInterval is returned when start is after end.
	ErrInvalidInterval = errors.New("invalid interval: start after end")

	// ErrInvalidResource is returned when a resource reference is missing.
	ErrInvalidResource = errors.New("invalid resource reference")

	// ErrInvalidCapacity is returned when a resource capacity is below one.
	ErrInvalidCapacity = errors.New("resource capacity must be at least 1")

	// ErrResourceNotFound is returned when a referenced resource doesn't exist.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrReservationNotFound is returned when a referenced reservation doesn't exist.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrResourceUnavailable is returned when booking a closed or inactive resource.
	ErrResourceUnavailable = errors.New("resource is closed or inactive")

	// ErrInvalidPattern is returned when a recurrence pattern is malformed.
	ErrInvalidPattern = errors.New("invalid recurrence pattern")

	// ErrSeriesAborted is returned when a recurring expansion is rolled back.
	ErrSeriesAborted = errors.New("recurring series aborted")

	// ErrStaleState is returned when optimistic concurrency detects that a
	// reservation has already left the expected status.
	ErrStaleState = errors.New("stale state: reservation modified concurrently")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// SeriesAbortedError reports an all-or-nothing expansion that hit a conflict.
// CreatedBeforeAbort counts occurrences that had been created inside the
// transaction before rollback; it is diagnostic only, nothing persists.
type SeriesAbortedError struct {
	At                time.Time
	CreatedBeforeAbort int
	Conflicts         []ConflictRecord
}

func (e *SeriesAbortedError) Error() string {
	return fmt.Sprintf("series aborted at occurrence %s: %d conflict(s), %d occurrence(s) rolled back",
		e.At.Format(time.RFC3339), len(e.Conflicts), e.CreatedBeforeAbort)
}

func (e *SeriesAbortedError) Unwrap() error {
	return ErrSeriesAborted
}

// StaleStateError reports the status mismatch behind an ErrStaleState.
type StaleStateError struct {
	ReservationID ReservationID
	Expected      ReservationStatus
	Actual        ReservationStatus
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("reservation %s: expected status %q, found %q", e.ReservationID, e.Expected, e.Actual)
}

func (e *StaleStateError) Unwrap() error {
	return ErrStaleState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInterval) ||
		errors.Is(err, ErrInvalidResource) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidPattern) ||
		errors.Is(err, ErrResourceUnavailable)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrResourceNotFound) ||
		errors.Is(err, ErrReservationNotFound)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStaleState)
}
