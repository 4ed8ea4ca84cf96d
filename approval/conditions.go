/*
conditions.go - Declarative condition trees for conditional rules

PURPOSE:
  A conditional rule evaluates a small boolean expression tree against the
  incoming request. When the tree evaluates true the rule behaves as auto;
  when false it behaves as single (manual approval).

TREE SHAPE:
  Each node is exactly one of: All (AND), Any (OR), Not, or a Leaf
  condition. Trees are validated at rule-creation time so evaluation can
  never hit a malformed node.

LEAF KINDS:
  time_of_day           booking falls entirely within [StartHour, EndHour)
  weekdays_only         booking touches no Saturday/Sunday
  max_consecutive_days  booking spans at most N calendar days
  cooldown              at least N hours since the requester's previous
                        approved booking ended
*/
package approval

import (
	"time"

	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// CONDITION TREE
// =============================================================================

type ConditionKind string

const (
	CondTimeOfDay          ConditionKind = "time_of_day"
	CondWeekdaysOnly       ConditionKind = "weekdays_only"
	CondMaxConsecutiveDays ConditionKind = "max_consecutive_days"
	CondCooldown           ConditionKind = "cooldown"
)

// Condition is one leaf test. Only the fields for its Kind are meaningful.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	StartHour int `json:"start_hour,omitempty"` // time_of_day, inclusive
	EndHour   int `json:"end_hour,omitempty"`   // time_of_day, exclusive

	MaxConsecutiveDays int `json:"max_consecutive_days,omitempty"`
	CooldownHours      int `json:"cooldown_hours,omitempty"`
}

// ConditionNode is one node of the expression tree. Exactly one of
// All/Any/Not/Leaf must be set.
type ConditionNode struct {
	All  []ConditionNode `json:"all,omitempty"`
	Any  []ConditionNode `json:"any,omitempty"`
	Not  *ConditionNode  `json:"not,omitempty"`
	Leaf *Condition      `json:"leaf,omitempty"`
}

// Validate enforces the one-of shape and leaf parameter ranges.
func (n ConditionNode) Validate() error {
	set := 0
	if len(n.All) > 0 {
		set++
	}
	if len(n.Any) > 0 {
		set++
	}
	if n.Not != nil {
		set++
	}
	if n.Leaf != nil {
		set++
	}
	if set != 1 {
		return ErrInvalidRule
	}

	for _, child := range n.All {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	for _, child := range n.Any {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	if n.Not != nil {
		return n.Not.Validate()
	}
	if n.Leaf != nil {
		return n.Leaf.validate()
	}
	return nil
}

func (c *Condition) validate() error {
	switch c.Kind {
	case CondTimeOfDay:
		if c.StartHour < 0 || c.StartHour > 23 || c.EndHour < 1 || c.EndHour > 24 || c.StartHour >= c.EndHour {
			return ErrInvalidRule
		}
	case CondWeekdaysOnly:
	case CondMaxConsecutiveDays:
		if c.MaxConsecutiveDays < 1 {
			return ErrInvalidRule
		}
	case CondCooldown:
		if c.CooldownHours < 1 {
			return ErrInvalidRule
		}
	default:
		return ErrInvalidRule
	}
	return nil
}

// =============================================================================
// EVALUATION
// =============================================================================

// EvalContext carries the request facts a condition tree may consult.
// The workflow assembles it once per evaluation.
type EvalContext struct {
	Interval scheduling.Interval

	// LastApprovedEnd is when the requester's most recent approved booking
	// ended; nil when there is none.
	LastApprovedEnd *time.Time
}

// Evaluate runs the tree against the context. Trees are validated at
// creation, so evaluation is total.
func (n ConditionNode) Evaluate(ec EvalContext) bool {
	switch {
	case len(n.All) > 0:
		for _, child := range n.All {
			if !child.Evaluate(ec) {
				return false
			}
		}
		return true
	case len(n.Any) > 0:
		for _, child := range n.Any {
			if child.Evaluate(ec) {
				return true
			}
		}
		return false
	case n.Not != nil:
		return !n.Not.Evaluate(ec)
	case n.Leaf != nil:
		return n.Leaf.evaluate(ec)
	}
	return false
}

func (c *Condition) evaluate(ec EvalContext) bool {
	switch c.Kind {
	case CondTimeOfDay:
		start := ec.Interval.Start
		end := ec.Interval.End
		if !sameDay(start, end) && !(end.Hour() == 0 && sameDay(start, end.Add(-time.Minute))) {
			// Multi-day bookings cannot fit a daily window.
			return false
		}
		endHour := end.Hour()
		if end.Minute() > 0 || end.Second() > 0 {
			endHour++
		}
		if endHour == 0 { // midnight end counts as hour 24
			endHour = 24
		}
		return start.Hour() >= c.StartHour && endHour <= c.EndHour

	case CondWeekdaysOnly:
		for d := ec.Interval.Start; d.Before(ec.Interval.End); d = d.AddDate(0, 0, 1) {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
				return false
			}
		}
		return true

	case CondMaxConsecutiveDays:
		return calendarDaysSpanned(ec.Interval) <= c.MaxConsecutiveDays

	case CondCooldown:
		if ec.LastApprovedEnd == nil {
			return true
		}
		gap := ec.Interval.Start.Sub(*ec.LastApprovedEnd)
		return gap >= time.Duration(c.CooldownHours)*time.Hour
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// calendarDaysSpanned counts the distinct calendar days a half-open
// interval touches.
func calendarDaysSpanned(iv scheduling.Interval) int {
	if iv.IsDegenerate() {
		return 0
	}
	first := time.Date(iv.Start.Year(), iv.Start.Month(), iv.Start.Day(), 0, 0, 0, 0, iv.Start.Location())
	lastInstant := iv.End.Add(-time.Nanosecond)
	last := time.Date(lastInstant.Year(), lastInstant.Month(), lastInstant.Day(), 0, 0, 0, 0, lastInstant.Location())
	return int(last.Sub(first).Hours()/24) + 1
}
