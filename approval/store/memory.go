// Package store provides approval.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/booking-engine/approval"
	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	rules    map[approval.RuleID]approval.Rule
	requests map[approval.RequestID]approval.Request
	history  map[approval.RequestID][]approval.HistoryEntry
}

func NewMemory() *Memory {
	return &Memory{
		rules:    make(map[approval.RuleID]approval.Rule),
		requests: make(map[approval.RequestID]approval.Request),
		history:  make(map[approval.RequestID][]approval.HistoryEntry),
	}
}

var _ approval.Store = (*Memory)(nil)

// -----------------------------------------------------------------------------
// Rules
// -----------------------------------------------------------------------------

func (m *Memory) PutRule(_ context.Context, r *approval.Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = *r
	return nil
}

func (m *Memory) GetRule(_ context.Context, id approval.RuleID) (*approval.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return nil, approval.ErrRuleNotFound
	}
	return &r, nil
}

func (m *Memory) ListCandidateRules(_ context.Context, resourceID scheduling.ResourceID) ([]*approval.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*approval.Rule
	for _, r := range m.rules {
		r := r
		if !r.IsActive {
			continue
		}
		if r.ResourceID == nil || *r.ResourceID == resourceID {
			out = append(out, &r)
		}
	}
	approval.SortRules(out)
	return out, nil
}

// -----------------------------------------------------------------------------
// Requests
// -----------------------------------------------------------------------------

func (m *Memory) PutRequest(_ context.Context, r *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = *r
	return nil
}

func (m *Memory) GetRequest(_ context.Context, id approval.RequestID) (*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, approval.ErrRequestNotFound
	}
	return &r, nil
}

func (m *Memory) UpdateRequest(_ context.Context, r *approval.Request, expectVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.requests[r.ID]
	if !ok {
		return approval.ErrRequestNotFound
	}
	if stored.Version != expectVersion {
		return &approval.StaleStateError{RequestID: r.ID, ExpectedVersion: expectVersion, ActualVersion: stored.Version}
	}
	r.Version = expectVersion + 1
	m.requests[r.ID] = *r
	return nil
}

func (m *Memory) ListByState(_ context.Context, s approval.State) ([]*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*approval.Request
	for _, r := range m.requests {
		r := r
		if r.State == s {
			out = append(out, &r)
		}
	}
	sortRequests(out)
	return out, nil
}

func (m *Memory) ListOpenByRequester(_ context.Context, requesterID string) ([]*approval.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*approval.Request
	for _, r := range m.requests {
		r := r
		if r.RequesterID == requesterID && !r.State.Terminal() {
			out = append(out, &r)
		}
	}
	sortRequests(out)
	return out, nil
}

// -----------------------------------------------------------------------------
// History
// -----------------------------------------------------------------------------

func (m *Memory) AppendHistory(_ context.Context, e approval.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[e.RequestID] = append(m.history[e.RequestID], e)
	return nil
}

func (m *Memory) ListHistory(_ context.Context, id approval.RequestID) ([]approval.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]approval.HistoryEntry, len(m.history[id]))
	copy(out, m.history[id])
	return out, nil
}

// -----------------------------------------------------------------------------
// Usage
// -----------------------------------------------------------------------------

// ApprovedUsage derives rolling-window usage from approved requests whose
// booking starts inside [from, to).
func (m *Memory) ApprovedUsage(_ context.Context, requesterID string, from, to time.Time) (time.Duration, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total time.Duration
	count := 0
	for _, r := range m.requests {
		if r.RequesterID != requesterID || r.State != approval.StateApproved {
			continue
		}
		if r.Interval.Start.Before(from) || !r.Interval.Start.Before(to) {
			continue
		}
		total += r.Interval.Duration()
		count++
	}
	return total, count, nil
}

func (m *Memory) LastApprovedEnd(_ context.Context, requesterID string) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var last *time.Time
	for _, r := range m.requests {
		if r.RequesterID != requesterID || r.State != approval.StateApproved {
			continue
		}
		end := r.Interval.End
		if last == nil || end.After(*last) {
			last = &end
		}
	}
	return last, nil
}

func sortRequests(rs []*approval.Request) {
	sort.Slice(rs, func(i, j int) bool {
		if rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].ID < rs[j].ID
		}
		return rs[i].CreatedAt.Before(rs[j].CreatedAt)
	})
}
