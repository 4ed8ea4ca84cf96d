/*
calculator.go - Rate resolution and charge calculation

PIPELINE:
  resolve rate ──▶ billed minutes ──▶ base amount ──▶ adjustments ──▶ record

  1. Rate resolution: active rates for (resource, user class) covering the
     as-of date; highest priority wins, equal priorities broken by lowest
     rate id (documented tie-break - silent nondeterminism would break
     reproducible billing).
  2. billedMinutes = max(actualMinutes, minimum), then rounded UP to the
     next roundingMinutes multiple. Rounding runs after the floor.
  3. base = billedMinutes/60 * hourlyRate, exact decimal arithmetic.
  4. final = base - discount + surcharge; negative results clamp to zero
     and flag the record for manual review.
  5. Round half-up to 2 decimal places at the final money value only.
*/
package billing

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/booking-engine/scheduling"
)

var (
	sixty   = decimal.NewFromInt(60)
	hundred = decimal.NewFromInt(100)
)

// RateSource supplies the active rates for a (resource, user class) pair.
// Date filtering and priority selection are the calculator's concern.
type RateSource interface {
	ActiveRates(ctx context.Context, resourceID scheduling.ResourceID, userType scheduling.UserType) ([]*Rate, error)
}

// Calculator computes charges for concluded reservations.
type Calculator struct {
	Rates RateSource

	// Clock is injectable for tests; defaults to time.Now.
	Clock func() time.Time
}

func (c *Calculator) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

// ResolveRate picks the applicable rate for the triple, or
// ErrNoApplicableRate when nothing covers the date.
func (c *Calculator) ResolveRate(ctx context.Context, resourceID scheduling.ResourceID, userType scheduling.UserType, asOf time.Time) (*Rate, error) {
	rates, err := c.Rates.ActiveRates(ctx, resourceID, userType)
	if err != nil {
		return nil, err
	}

	var covering []*Rate
	for _, r := range rates {
		if r.IsActive && r.CoversDate(asOf) {
			covering = append(covering, r)
		}
	}
	if len(covering) == 0 {
		return nil, ErrNoApplicableRate
	}

	sort.Slice(covering, func(i, j int) bool {
		if covering[i].Priority != covering[j].Priority {
			return covering[i].Priority > covering[j].Priority
		}
		return covering[i].ID < covering[j].ID
	})
	return covering[0], nil
}

// BilledMinutes applies the minimum-charge floor, then rounds up to the
// next rounding increment.
func BilledMinutes(actual, minimum, rounding int) int {
	billed := actual
	if billed < minimum {
		billed = minimum
	}
	if rounding > 0 && billed%rounding != 0 {
		billed = (billed/rounding + 1) * rounding
	}
	return billed
}

// CalculateCharge computes the charge record for a concluded reservation.
// The returned record is unconfirmed; confirmation is an explicit external
// action and confirmed records are immutable.
func (c *Calculator) CalculateCharge(ctx context.Context, reservation *scheduling.Reservation, asOf time.Time, adj Adjustments) (*Record, error) {
	rate, err := c.ResolveRate(ctx, reservation.ResourceID, reservation.UserType, asOf)
	if err != nil {
		return nil, err
	}

	actual := reservation.Interval.Minutes()
	billed := BilledMinutes(actual, rate.MinimumChargeMinutes, rate.RoundingMinutes)

	hours := decimal.NewFromInt(int64(billed)).Div(sixty)
	base := hours.Mul(rate.HourlyRate)

	discount := decimal.Zero
	if adj.Discount != nil {
		switch {
		case adj.Discount.Percent.IsPositive():
			if adj.Discount.Percent.GreaterThan(hundred) {
				return nil, ErrInvalidAdjustment
			}
			discount = base.Mul(adj.Discount.Percent).Div(hundred)
		case adj.Discount.Fixed.IsPositive():
			discount = adj.Discount.Fixed
		case adj.Discount.Percent.IsNegative() || adj.Discount.Fixed.IsNegative():
			return nil, ErrInvalidAdjustment
		}
	}
	surcharge := adj.Surcharge
	if surcharge.IsNegative() {
		return nil, ErrInvalidAdjustment
	}

	final := base.Sub(discount).Add(surcharge)
	needsReview := false
	if final.IsNegative() {
		// Adjustments cannot produce a negative invoice; clamp and let a
		// human decide what was intended.
		final = decimal.Zero
		needsReview = true
	}

	return &Record{
		ID:                   RecordID(uuid.NewString()),
		ReservationID:        reservation.ID,
		RateID:               rate.ID,
		HourlyRate:           rate.HourlyRate,
		MinimumChargeMinutes: rate.MinimumChargeMinutes,
		RoundingMinutes:      rate.RoundingMinutes,
		ActualMinutes:        actual,
		BilledMinutes:        billed,
		HoursUsed:            hours,
		TotalAmount:          base.Round(2),
		DiscountAmount:       discount.Round(2),
		SurchargeAmount:      surcharge.Round(2),
		FinalAmount:          final.Round(2),
		NeedsReview:          needsReview,
		IsConfirmed:          false,
		CreatedAt:            c.now(),
	}, nil
}

// Confirm marks the record immutable. Confirming twice is an error.
func (r *Record) Confirm() error {
	if r.IsConfirmed {
		return ErrRecordConfirmed
	}
	r.IsConfirmed = true
	return nil
}
