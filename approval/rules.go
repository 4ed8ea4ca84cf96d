/*
rules.go - Rule resolution

PURPOSE:
  Given an incoming request, finds the rule that governs it and decides
  the immediate disposition:

    1. Candidate rules = active rules matching the resource (specific
       before catch-all) and the requester's role, priority ascending.
    2. The first candidate whose conditions are satisfiable is applied.
    3. An auto rule whose conditions fail falls through to its fallback
       rule when present, otherwise to the next candidate; when nothing
       remains the request stays pending for manual handling.
    4. No candidate at all is ErrRuleResolutionExhausted - surfaced, never
       silently auto-approved.
*/
package approval

import (
	"context"
	"sort"
	"time"
)

// maxFallbackDepth bounds fallback chains so a rule cycle cannot loop.
const maxFallbackDepth = 5

// disposition is the immediate outcome of applying a rule at submission.
type disposition int

const (
	dispositionPending disposition = iota // wait for a manual approver
	dispositionApprove                    // auto-approve now (gates permitting)
	dispositionReject                     // auto-reject now (quota exceeded)
)

type resolution struct {
	rule        *Rule
	disposition disposition
	reason      string
}

// SortRules orders rules in resolution order: resource-specific before
// catch-all, then ascending priority, then id for determinism.
func SortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		a, b := rules[i], rules[j]
		aSpecific := a.ResourceID != nil
		bSpecific := b.ResourceID != nil
		if aSpecific != bSpecific {
			return aSpecific
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
}

// resolve walks the candidate rules for the request and returns the first
// applicable resolution.
func (w *Workflow) resolve(ctx context.Context, req *Request) (*resolution, error) {
	candidates, err := w.Store.ListCandidateRules(ctx, req.ResourceID)
	if err != nil {
		return nil, err
	}
	SortRules(candidates)

	matched := false
	for _, rule := range candidates {
		if !rule.Matches(req.ResourceID, req.Requester) {
			continue
		}
		matched = true

		res, ok, err := w.applyRule(ctx, rule, req, 0)
		if err != nil {
			return nil, err
		}
		if ok {
			return res, nil
		}
		// Conditions unsatisfied and no fallback: try the next candidate.
	}

	if matched {
		// Some rule matched but none resolved (e.g. an auto rule whose
		// duration bound failed with no fallback). The request remains
		// pending for manual handling, bound to no rule.
		return &resolution{disposition: dispositionPending, reason: "no rule conditions satisfied"}, nil
	}
	return nil, ErrRuleResolutionExhausted
}

// applyRule evaluates one rule against the request. The boolean result is
// false when the rule's conditions were not satisfiable and resolution
// should continue with the next candidate.
func (w *Workflow) applyRule(ctx context.Context, rule *Rule, req *Request, depth int) (*resolution, bool, error) {
	if depth > maxFallbackDepth {
		return nil, false, ErrInvalidRule
	}

	switch rule.Type {
	case RuleAuto:
		if w.autoSatisfied(rule.Conditions.Auto, req) {
			return &resolution{rule: rule, disposition: dispositionApprove, reason: "auto rule conditions met"}, true, nil
		}
		return w.fallback(ctx, rule, req, depth)

	case RuleSingle:
		return &resolution{rule: rule, disposition: dispositionPending, reason: "awaiting approver"}, true, nil

	case RuleTiered:
		return &resolution{rule: rule, disposition: dispositionPending, reason: "awaiting first-level approver"}, true, nil

	case RuleQuota:
		exceeded, detail, err := w.quotaExceeded(ctx, rule.Conditions.Quota, req)
		if err != nil {
			return nil, false, err
		}
		if exceeded {
			return &resolution{rule: rule, disposition: dispositionReject, reason: detail}, true, nil
		}
		return &resolution{rule: rule, disposition: dispositionPending, reason: "within quota, awaiting approver"}, true, nil

	case RuleConditional:
		ec, err := w.evalContext(ctx, req)
		if err != nil {
			return nil, false, err
		}
		if rule.Conditions.Conditional.Tree.Evaluate(ec) {
			return &resolution{rule: rule, disposition: dispositionApprove, reason: "conditional tree satisfied"}, true, nil
		}
		return &resolution{rule: rule, disposition: dispositionPending, reason: "conditional tree unsatisfied, awaiting approver"}, true, nil
	}
	return nil, false, ErrInvalidRule
}

// fallback follows an unsatisfied auto rule to its fallback rule, when any.
func (w *Workflow) fallback(ctx context.Context, rule *Rule, req *Request, depth int) (*resolution, bool, error) {
	if rule.FallbackRuleID == nil {
		return nil, false, nil
	}
	fb, err := w.Store.GetRule(ctx, *rule.FallbackRuleID)
	if err != nil {
		return nil, false, err
	}
	return w.applyRule(ctx, fb, req, depth+1)
}

func (w *Workflow) autoSatisfied(ac *AutoConditions, req *Request) bool {
	if ac.MaxDurationHours == 0 {
		return true
	}
	return req.Interval.Duration() <= time.Duration(ac.MaxDurationHours)*time.Hour
}

func (w *Workflow) evalContext(ctx context.Context, req *Request) (EvalContext, error) {
	lastEnd, err := w.Store.LastApprovedEnd(ctx, req.RequesterID)
	if err != nil {
		return EvalContext{}, err
	}
	return EvalContext{Interval: req.Interval, LastApprovedEnd: lastEnd}, nil
}
