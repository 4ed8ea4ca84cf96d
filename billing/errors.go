package billing

import "errors"

var (
	// ErrNoApplicableRate is returned when no active rate covers the
	// (resource, user class, date) triple. The reservation is flagged for
	// an operator, never silently charged zero.
	ErrNoApplicableRate = errors.New("no applicable billing rate")

	// ErrInvalidRate is returned when a rate row violates its invariants.
	ErrInvalidRate = errors.New("invalid billing rate")

	// ErrInvalidAdjustment is returned for malformed discounts/surcharges.
	ErrInvalidAdjustment = errors.New("invalid billing adjustment")

	// ErrRecordConfirmed is returned when mutating a confirmed record.
	ErrRecordConfirmed = errors.New("billing record already confirmed")

	// ErrRecordNotFound is returned when a referenced record doesn't exist.
	ErrRecordNotFound = errors.New("billing record not found")
)

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRate) ||
		errors.Is(err, ErrInvalidAdjustment) ||
		errors.Is(err, ErrRecordConfirmed)
}

// IsNotFound returns true if the error indicates a missing entity.
// ErrNoApplicableRate is deliberately excluded: the reservation exists,
// the rate table just refuses to cover it, and callers surface that as a
// domain refusal rather than a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}
