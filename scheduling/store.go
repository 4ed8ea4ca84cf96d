/*
store.go - Persistence interface for scheduling state

PURPOSE:
  Defines the interface between the scheduling engine and the database.
  Different implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  Store:   Resource/reservation/maintenance queries and writes
  TxStore: Transactional operations and per-resource serialization

CONCURRENCY CONTRACT:
  Conflict detection followed by a reservation write is a check-then-act
  race: two concurrent conflict-free checks could both succeed and
  over-book capacity. WithResourceLock serializes that critical section
  per resource. Preview reads (availability checks before submission) may
  run without the lock but are re-validated under it at commit time.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite (transactions + per-resource lock)
  - scheduling/store: In-memory for testing and dev

SEE ALSO:
  - conflict.go: Reads through Store
  - recurrence.go: Runs whole-series expansion inside WithTx
*/
package scheduling

import "context"

// =============================================================================
// STORE - Scheduling state persistence
// =============================================================================

// Store handles persistence of resources, reservations, and maintenance
// windows. Reservations are never deleted by the engine; status transitions
// record their lifecycle and terminal rows are kept for audit.
type Store interface {
	// GetResource returns the resource or ErrResourceNotFound.
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)

	// PutResource creates or replaces a resource definition.
	PutResource(ctx context.Context, r *Resource) error

	// ListResources returns all resources ordered by id.
	ListResources(ctx context.Context) ([]*Resource, error)

	// GetReservation returns the reservation or ErrReservationNotFound.
	GetReservation(ctx context.Context, id ReservationID) (*Reservation, error)

	// PutReservation creates a reservation row.
	PutReservation(ctx context.Context, r *Reservation) error

	// ListOverlapping returns reservations on the resource whose interval
	// overlaps the probe window, regardless of status, ordered by start time.
	// Status filtering is the detector's concern, not the store's.
	ListOverlapping(ctx context.Context, resourceID ResourceID, probe Interval) ([]*Reservation, error)

	// ListByGroup returns all sibling occurrences of a recurring group,
	// ordered by start time.
	ListByGroup(ctx context.Context, group GroupID) ([]*Reservation, error)

	// UpdateReservationStatus transitions a reservation from an expected
	// status. Returns *StaleStateError when the row is no longer in `from`.
	UpdateReservationStatus(ctx context.Context, id ReservationID, from, to ReservationStatus) error

	// ListBlockingMaintenance returns maintenance windows on the resource
	// with BlocksBooking set that overlap the probe window, ordered by start.
	ListBlockingMaintenance(ctx context.Context, resourceID ResourceID, probe Interval) ([]*MaintenanceWindow, error)

	// PutMaintenanceWindow creates a maintenance window row.
	PutMaintenanceWindow(ctx context.Context, w *MaintenanceWindow) error
}

// =============================================================================
// TRANSACTIONAL STORE - Atomicity and per-resource serialization
// =============================================================================

// TxStore wraps Store with transaction support and resource-scoped locking.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is
	// rolled back; otherwise the transaction commits.
	WithTx(ctx context.Context, fn func(Store) error) error

	// WithResourceLock executes fn while holding an exclusive lock scoped
	// to the resource, inside a transaction. All conflict-check-then-create
	// paths go through here.
	WithResourceLock(ctx context.Context, id ResourceID, fn func(Store) error) error
}
