/*
Package scheduling provides the core booking scheduling and allocation engine.

PURPOSE:
  This package contains the value types and algorithms for managing shared
  laboratory resources: instruments, rooms, and equipment. It covers
  capacity-aware conflict detection between reservations and maintenance
  blackout windows, and expansion of recurring-booking patterns into
  concrete reservation series.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource: A bookable instrument/room with a concurrency capacity
  - Reservation: A time-bounded claim on a resource by a requester
  - MaintenanceWindow: A blackout period that can block all bookings
  - Resource/Reservation IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Half-open intervals: [start, end) everywhere; adjacency never conflicts
  2. Purity: Conflict detection is a query with no side effects
  3. Type Safety: Strong typing for IDs prevents mixing resource/reservation IDs
  4. Determinism: All query results are deterministically ordered

SEE ALSO:
  - interval.go: The interval-overlap primitive and capacity ledger
  - conflict.go: Capacity-aware conflict detection
  - recurrence.go: Recurring-pattern expansion
*/
package scheduling

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ResourceID string
type ReservationID string
type MaintenanceID string
type GroupID string

// Role identifies the requester's role for approval-rule matching.
type Role string

const (
	RoleStudent    Role = "student"
	RoleResearcher Role = "researcher"
	RoleStaff      Role = "staff"
	RoleExternal   Role = "external"
	RoleAdmin      Role = "admin"
)

// UserType identifies the billing class of a requester. It is deliberately
// distinct from Role: billing classes are coarser (internal vs external vs
// academic) and change independently of approval permissions.
type UserType string

const (
	UserInternal UserType = "internal"
	UserAcademic UserType = "academic"
	UserExternal UserType = "external"
)

// =============================================================================
// RESOURCE - A bookable instrument or room
// =============================================================================

// Resource is a shared lab asset that reservations are made against.
type Resource struct {
	ID       ResourceID
	Name     string
	Capacity int // max concurrent overlapping reservations, always >= 1

	// IsActive gates whether new bookings are accepted at all.
	// IsClosed is a hard administrative block, distinct from maintenance.
	IsActive bool
	IsClosed bool

	// Prerequisite gates the approval workflow enforces before a request
	// for this resource can reach its final approved state.
	RequiresSafetyInduction bool
	RequiresLabTraining     bool
	RequiresRiskAssessment  bool
}

// Bookable reports whether the resource accepts new reservations.
func (r *Resource) Bookable() bool {
	return r.IsActive && !r.IsClosed
}

// Validate checks resource invariants.
func (r *Resource) Validate() error {
	if r.ID == "" {
		return ErrInvalidResource
	}
	if r.Capacity < 1 {
		return ErrInvalidCapacity
	}
	return nil
}

// =============================================================================
// RESERVATION - A time-bounded claim on a resource
// =============================================================================

type ReservationStatus string

const (
	StatusPending            ReservationStatus = "pending"
	StatusApproved           ReservationStatus = "approved"
	StatusFirstLevelApproved ReservationStatus = "first_level_approved"
	StatusRejected           ReservationStatus = "rejected"
	StatusCancelled          ReservationStatus = "cancelled"
	StatusCompleted          ReservationStatus = "completed"
	StatusTimedOut           ReservationStatus = "timed_out"
)

// Active reports whether the status occupies capacity for conflict purposes.
// Pending, first-level-approved, and approved reservations hold a slot;
// everything else (cancelled, rejected, completed, timed out) is ignored
// by the detector.
func (s ReservationStatus) Active() bool {
	return s == StatusPending || s == StatusApproved || s == StatusFirstLevelApproved
}

// Cancellable reports whether a reservation in this status may still be
// cancelled (used by series cancellation).
func (s ReservationStatus) Cancellable() bool {
	return s == StatusPending || s == StatusApproved || s == StatusFirstLevelApproved
}

// Terminal reports whether the status is final for the approval dimension.
func (s ReservationStatus) Terminal() bool {
	switch s {
	case StatusRejected, StatusCancelled, StatusCompleted, StatusTimedOut:
		return true
	}
	return false
}

// Reservation is a claim on a resource over a half-open interval.
type Reservation struct {
	ID          ReservationID
	ResourceID  ResourceID
	RequesterID string
	Requester   Role
	UserType    UserType
	Interval    Interval
	Status      ReservationStatus

	// RecurringGroupID links sibling occurrences expanded from one pattern.
	RecurringGroupID GroupID

	// ExcludeFromConflicts is only meaningful for cancelled/rejected
	// reservations kept around for audit; active reservations never set it.
	ExcludeFromConflicts bool

	Purpose   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OccupiesCapacity reports whether this reservation should count against
// the resource capacity when checking a candidate interval.
func (r *Reservation) OccupiesCapacity() bool {
	return r.Status.Active() && !r.ExcludeFromConflicts
}

// =============================================================================
// MAINTENANCE WINDOW - Blackout period for a resource
// =============================================================================

// MaintenanceWindow is a scheduled service period. When BlocksBooking is
// set it consumes the resource's full capacity regardless of the numeric
// capacity value. Maintenance windows never conflict with each other.
type MaintenanceWindow struct {
	ID            MaintenanceID
	ResourceID    ResourceID
	Interval      Interval
	BlocksBooking bool
	Description   string
}
