// Package store provides scheduling.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	resources    map[scheduling.ResourceID]scheduling.Resource
	reservations map[scheduling.ReservationID]scheduling.Reservation
	maintenance  map[scheduling.MaintenanceID]scheduling.MaintenanceWindow
}

func NewMemory() *Memory {
	return &Memory{
		resources:    make(map[scheduling.ResourceID]scheduling.Resource),
		reservations: make(map[scheduling.ReservationID]scheduling.Reservation),
		maintenance:  make(map[scheduling.MaintenanceID]scheduling.MaintenanceWindow),
	}
}

var _ scheduling.TxStore = (*Memory)(nil)

func (m *Memory) GetResource(_ context.Context, id scheduling.ResourceID) (*scheduling.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getResourceLocked(id)
}

func (m *Memory) getResourceLocked(id scheduling.ResourceID) (*scheduling.Resource, error) {
	r, ok := m.resources[id]
	if !ok {
		return nil, scheduling.ErrResourceNotFound
	}
	return &r, nil
}

func (m *Memory) PutResource(_ context.Context, r *scheduling.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[r.ID] = *r
	return nil
}

func (m *Memory) ListResources(_ context.Context) ([]*scheduling.Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*scheduling.Resource, 0, len(m.resources))
	for _, r := range m.resources {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetReservation(_ context.Context, id scheduling.ReservationID) (*scheduling.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getReservationLocked(id)
}

func (m *Memory) getReservationLocked(id scheduling.ReservationID) (*scheduling.Reservation, error) {
	r, ok := m.reservations[id]
	if !ok {
		return nil, scheduling.ErrReservationNotFound
	}
	return &r, nil
}

func (m *Memory) PutReservation(_ context.Context, r *scheduling.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putReservationLocked(r)
	return nil
}

func (m *Memory) putReservationLocked(r *scheduling.Reservation) {
	m.reservations[r.ID] = *r
}

func (m *Memory) ListOverlapping(_ context.Context, resourceID scheduling.ResourceID, probe scheduling.Interval) ([]*scheduling.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listOverlappingLocked(resourceID, probe), nil
}

func (m *Memory) listOverlappingLocked(resourceID scheduling.ResourceID, probe scheduling.Interval) []*scheduling.Reservation {
	var out []*scheduling.Reservation
	for _, r := range m.reservations {
		r := r
		if r.ResourceID == resourceID && r.Interval.Overlaps(probe) {
			out = append(out, &r)
		}
	}
	sortReservations(out)
	return out
}

func (m *Memory) ListByGroup(_ context.Context, group scheduling.GroupID) ([]*scheduling.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listByGroupLocked(group), nil
}

func (m *Memory) listByGroupLocked(group scheduling.GroupID) []*scheduling.Reservation {
	var out []*scheduling.Reservation
	for _, r := range m.reservations {
		r := r
		if r.RecurringGroupID == group {
			out = append(out, &r)
		}
	}
	sortReservations(out)
	return out
}

func (m *Memory) UpdateReservationStatus(_ context.Context, id scheduling.ReservationID, from, to scheduling.ReservationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateStatusLocked(id, from, to)
}

func (m *Memory) updateStatusLocked(id scheduling.ReservationID, from, to scheduling.ReservationStatus) error {
	r, ok := m.reservations[id]
	if !ok {
		return scheduling.ErrReservationNotFound
	}
	if r.Status != from {
		return &scheduling.StaleStateError{ReservationID: id, Expected: from, Actual: r.Status}
	}
	r.Status = to
	m.reservations[id] = r
	return nil
}

func (m *Memory) ListBlockingMaintenance(_ context.Context, resourceID scheduling.ResourceID, probe scheduling.Interval) ([]*scheduling.MaintenanceWindow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBlockingLocked(resourceID, probe), nil
}

func (m *Memory) listBlockingLocked(resourceID scheduling.ResourceID, probe scheduling.Interval) []*scheduling.MaintenanceWindow {
	var out []*scheduling.MaintenanceWindow
	for _, w := range m.maintenance {
		w := w
		if w.ResourceID == resourceID && w.BlocksBooking && w.Interval.Overlaps(probe) {
			out = append(out, &w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Interval.Start.Before(out[j].Interval.Start) })
	return out
}

func (m *Memory) PutMaintenanceWindow(_ context.Context, w *scheduling.MaintenanceWindow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maintenance[w.ID] = *w
	return nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback
// =============================================================================

// WithTx executes fn under the store lock with snapshot/rollback semantics.
func (m *Memory) WithTx(ctx context.Context, fn func(scheduling.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	if err := fn(&lockedView{parent: m}); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

// WithResourceLock is a transaction for the in-memory store: the single
// store mutex already serializes all writers, which is strictly coarser
// than a per-resource lock.
func (m *Memory) WithResourceLock(ctx context.Context, _ scheduling.ResourceID, fn func(scheduling.Store) error) error {
	return m.WithTx(ctx, fn)
}

type memorySnapshot struct {
	resources    map[scheduling.ResourceID]scheduling.Resource
	reservations map[scheduling.ReservationID]scheduling.Reservation
	maintenance  map[scheduling.MaintenanceID]scheduling.MaintenanceWindow
}

func (m *Memory) snapshotLocked() memorySnapshot {
	rsc := make(map[scheduling.ResourceID]scheduling.Resource, len(m.resources))
	for k, v := range m.resources {
		rsc[k] = v
	}
	res := make(map[scheduling.ReservationID]scheduling.Reservation, len(m.reservations))
	for k, v := range m.reservations {
		res[k] = v
	}
	win := make(map[scheduling.MaintenanceID]scheduling.MaintenanceWindow, len(m.maintenance))
	for k, v := range m.maintenance {
		win[k] = v
	}
	return memorySnapshot{resources: rsc, reservations: res, maintenance: win}
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.resources = s.resources
	m.reservations = s.reservations
	m.maintenance = s.maintenance
}

// lockedView gives transaction callbacks access to the already-locked store.
type lockedView struct {
	parent *Memory
}

var _ scheduling.Store = (*lockedView)(nil)

func (v *lockedView) GetResource(_ context.Context, id scheduling.ResourceID) (*scheduling.Resource, error) {
	return v.parent.getResourceLocked(id)
}

func (v *lockedView) PutResource(_ context.Context, r *scheduling.Resource) error {
	if err := r.Validate(); err != nil {
		return err
	}
	v.parent.resources[r.ID] = *r
	return nil
}

func (v *lockedView) ListResources(ctx context.Context) ([]*scheduling.Resource, error) {
	out := make([]*scheduling.Resource, 0, len(v.parent.resources))
	for _, r := range v.parent.resources {
		r := r
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *lockedView) GetReservation(_ context.Context, id scheduling.ReservationID) (*scheduling.Reservation, error) {
	return v.parent.getReservationLocked(id)
}

func (v *lockedView) PutReservation(_ context.Context, r *scheduling.Reservation) error {
	v.parent.putReservationLocked(r)
	return nil
}

func (v *lockedView) ListOverlapping(_ context.Context, resourceID scheduling.ResourceID, probe scheduling.Interval) ([]*scheduling.Reservation, error) {
	return v.parent.listOverlappingLocked(resourceID, probe), nil
}

func (v *lockedView) ListByGroup(_ context.Context, group scheduling.GroupID) ([]*scheduling.Reservation, error) {
	return v.parent.listByGroupLocked(group), nil
}

func (v *lockedView) UpdateReservationStatus(_ context.Context, id scheduling.ReservationID, from, to scheduling.ReservationStatus) error {
	return v.parent.updateStatusLocked(id, from, to)
}

func (v *lockedView) ListBlockingMaintenance(_ context.Context, resourceID scheduling.ResourceID, probe scheduling.Interval) ([]*scheduling.MaintenanceWindow, error) {
	return v.parent.listBlockingLocked(resourceID, probe), nil
}

func (v *lockedView) PutMaintenanceWindow(_ context.Context, w *scheduling.MaintenanceWindow) error {
	v.parent.maintenance[w.ID] = *w
	return nil
}

func sortReservations(rs []*scheduling.Reservation) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].Interval.Start.Equal(rs[j].Interval.Start) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].Interval.Start.Before(rs[j].Interval.Start)
	})
}
