/*
scheduler.go - Automated approval timeout sweep

PURPOSE:
  Periodically runs the approval workflow's timeout sweep so pending
  requests that nobody decided on transition to timed_out instead of
  lingering forever.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Each pass delegates to Workflow.SweepTimeouts; a request that fails to
    transition stays pending and is retried on the next pass
  - Stop blocks until the goroutine has exited

USAGE:
  scheduler := NewSweepScheduler(handler.Workflow)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - approval/workflow.go: SweepTimeouts
  - cmd/server/main.go: Wiring and shutdown order
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/booking-engine/approval"
)

// SweepScheduler drives the approval timeout sweep on a ticker.
type SweepScheduler struct {
	Workflow      *approval.Workflow
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSweepScheduler creates a scheduler with a one-hour check interval.
func NewSweepScheduler(workflow *approval.Workflow) *SweepScheduler {
	return &SweepScheduler{
		Workflow:      workflow,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SweepScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler and waits for the in-flight pass to finish.
func (ss *SweepScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SweepScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.sweep()

	for {
		select {
		case <-ss.ticker.C:
			ss.sweep()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SweepScheduler) sweep() {
	ctx := context.Background()
	timedOut, err := ss.Workflow.SweepTimeouts(ctx)
	if err != nil {
		log.Printf("[Scheduler] Timeout sweep failed: %v", err)
		return
	}
	if timedOut > 0 {
		log.Printf("[Scheduler] Timed out %d pending requests", timedOut)
	}
}

// RunNow triggers an immediate sweep (for testing/admin).
func (ss *SweepScheduler) RunNow() {
	ss.sweep()
}
