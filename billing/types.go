/*
Package billing resolves usage rates and computes charges for completed
reservations.

PURPOSE:
  Given a (resource, user class, date) triple, finds the applicable hourly
  rate by priority and validity window, applies minimum-charge and
  rounding-increment rules, then applies discounts and surcharges to
  produce a final charge.

DESIGN PRINCIPLES:
  1. Precision: All money math uses decimal.Decimal; no floating point
     anywhere on the charge path
  2. Late rounding: Round-half-up to 2 decimal places happens once, at the
     final money value, never at intermediate steps
  3. Immutability: A confirmed billing record is never modified

BILLED MINUTES:
  billed = max(actualMinutes, minimumChargeMinutes), then rounded UP to
  the next multiple of roundingMinutes (when non-zero). The rounding step
  runs after the minimum-charge floor.

SEE ALSO:
  - calculator.go: Rate resolution and the charge pipeline
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// RATES
// =============================================================================

type RateID string
type RecordID string

// Rate is one pricing row for a (resource, user class) pair. Several
// active rates may cover the same date; the highest Priority wins, with
// equal priorities broken deterministically by lowest id.
type Rate struct {
	ID         RateID
	ResourceID scheduling.ResourceID
	UserType   scheduling.UserType

	HourlyRate decimal.Decimal // >= 0

	ValidFrom  time.Time
	ValidUntil *time.Time // nil = open-ended

	Priority             int
	MinimumChargeMinutes int // 0 = no minimum
	RoundingMinutes      int // 0 = no rounding
	IsActive             bool
}

// Validate checks rate invariants.
func (r *Rate) Validate() error {
	if r.ID == "" || r.ResourceID == "" {
		return ErrInvalidRate
	}
	if r.HourlyRate.IsNegative() {
		return ErrInvalidRate
	}
	if r.MinimumChargeMinutes < 0 || r.RoundingMinutes < 0 {
		return ErrInvalidRate
	}
	if r.ValidUntil != nil && r.ValidUntil.Before(r.ValidFrom) {
		return ErrInvalidRate
	}
	return nil
}

// CoversDate reports whether the rate is valid on the given date.
func (r *Rate) CoversDate(d time.Time) bool {
	if d.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && d.After(*r.ValidUntil) {
		return false
	}
	return true
}

// =============================================================================
// ADJUSTMENTS
// =============================================================================

// Discount reduces the base amount. Exactly one of Percent/Fixed is used:
// a non-zero Percent takes precedence.
type Discount struct {
	Percent decimal.Decimal // 0-100
	Fixed   decimal.Decimal
}

// Adjustments are applied after the base amount, discount first.
type Adjustments struct {
	Discount  *Discount
	Surcharge decimal.Decimal // fixed amount added after discount
}

// =============================================================================
// RECORDS
// =============================================================================

// Record is the computed charge for one reservation. It snapshots the
// resolved rate so later rate edits cannot change history. Records start
// unconfirmed; once confirmed they are immutable.
type Record struct {
	ID            RecordID
	ReservationID scheduling.ReservationID
	RateID        RateID

	// Rate snapshot
	HourlyRate           decimal.Decimal
	MinimumChargeMinutes int
	RoundingMinutes      int

	ActualMinutes int
	BilledMinutes int
	HoursUsed     decimal.Decimal

	TotalAmount     decimal.Decimal // base charge before adjustments
	DiscountAmount  decimal.Decimal
	SurchargeAmount decimal.Decimal
	FinalAmount     decimal.Decimal // total - discount + surcharge, clamped at zero

	// NeedsReview is set when clamping occurred (adjustments drove the
	// final amount negative) and a human should look at the record.
	NeedsReview bool

	IsConfirmed bool
	CreatedAt   time.Time
}
