/*
cascade.go - Auto-confirmation cascade

PURPOSE:
  When the training system reports a completion (safety induction, lab
  training, risk assessment sign-off), every open request of that
  requester gets the matching gate confirmed automatically - through the
  exact same ConfirmPrerequisite operation the manual path uses, so the
  audit trail and events are identical. There is no implicit signal
  wiring: the collaborator delivering completions calls HandleCompletion
  explicitly.
*/
package approval

import (
	"context"
	"log"
	"time"
)

// CompletionEvent is an inbound signal from the training/induction
// collaborator.
type CompletionEvent struct {
	Gate        GateName
	RequesterID string
	CompletedBy string
	At          time.Time
	Notes       string
}

// Cascade subscribes to completion events and fans them out to the
// requester's open approval requests.
type Cascade struct {
	Workflow *Workflow
}

// HandleCompletion confirms the completed gate on every open request of
// the requester. Returns how many requests were updated. Per-request
// failures are logged and skipped; a missed confirmation can always be
// re-applied manually.
func (c *Cascade) HandleCompletion(ctx context.Context, ev CompletionEvent) (int, error) {
	open, err := c.Workflow.Store.ListOpenByRequester(ctx, ev.RequesterID)
	if err != nil {
		return 0, err
	}

	confirmed := 0
	for _, req := range open {
		if _, err := c.Workflow.ConfirmPrerequisite(ctx, req.ID, ev.Gate, ev.CompletedBy, ev.Notes); err != nil {
			log.Printf("[Approval] cascade: confirm %s on %s: %v", ev.Gate, req.ID, err)
			continue
		}
		confirmed++
	}
	return confirmed, nil
}
