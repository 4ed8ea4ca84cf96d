/*
events.go - Domain events emitted by the approval workflow

PURPOSE:
  Every transition emits an event describing what happened. The
  notification collaborator subscribes to a Sink and owns all outbound
  delivery (email/SMS); this engine only makes the decision to notify.

SINKS:
  LogSink:  Logs events, used by the server by default
  Recorder: Captures events in memory, used by tests and as a fan-out
            buffer for external subscribers
*/
package approval

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/booking-engine/scheduling"
)

// =============================================================================
// EVENTS
// =============================================================================

type EventType string

const (
	EventRequestApproved       EventType = "request_approved"
	EventRequestRejected       EventType = "request_rejected"
	EventRequestTimedOut       EventType = "request_timed_out"
	EventFirstLevelApproved    EventType = "request_first_level_approved"
	EventPrerequisiteConfirmed EventType = "prerequisite_confirmed"
	EventSeriesCreated         EventType = "series_created"
)

// Event is one domain event. Detail carries event-specific context
// (e.g. the confirmed gate name, or created/skipped counts for a series).
type Event struct {
	Type          EventType
	RequestID     RequestID
	ReservationID scheduling.ReservationID
	ResourceID    scheduling.ResourceID
	RequesterID   string
	ActorID       string
	At            time.Time
	Detail        map[string]string
}

// Sink receives domain events. Emit must not block on external delivery;
// sinks that fan out to slow consumers should buffer internally.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// =============================================================================
// SINK IMPLEMENTATIONS
// =============================================================================

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, e Event) {
	log.Printf("[Events] %s request=%s reservation=%s actor=%s", e.Type, e.RequestID, e.ReservationID, e.ActorID)
}

// Recorder captures events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of one type, in emission order.
func (r *Recorder) OfType(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
