// Package planner defines the external planner oracle interface (spec §6)
// and the plan-matching rule the scoring kernel uses for the plan bonus
// term (spec §4.1 "Plan bonus").
package planner

import (
	"context"
	"strings"

	"github.com/mrlecko/hcc/internal/tokenset"
)

// PlanStep is one ordered step of a Plan.
type PlanStep struct {
	Description   string `json:"description"`
	ActionPattern string `json:"action_pattern"`
}

// Plan is the schema returned by a Planner, per spec §6. The core does not
// mandate an LLM or any specific backend — only this schema.
type Plan struct {
	Goal            string     `json:"goal"`
	Strategy        string     `json:"strategy"`
	Steps           []PlanStep `json:"steps"`
	SuccessCriteria string     `json:"success_criteria"`
	Contingencies   []string   `json:"contingencies"`
	Confidence      float64    `json:"confidence"`

	// CurrentStep indexes the step the plan is currently attempting; the
	// agent core advances it when a step's action_pattern is matched.
	CurrentStep int `json:"current_step"`

	// attempted marks whether CurrentStep has received at least one attempt,
	// used by the kernel's "first attempt" plan-bonus bump.
	attempted bool
}

// Planner is the external oracle interface consumed by the agent core.
type Planner interface {
	Plan(ctx context.Context, goal, context_ string, recentFailures []string) (*Plan, error)
}

// MatchResult classifies how an action relates to the plan's current step.
type MatchResult int

const (
	// NoPlan means no plan is active (nil, or already complete).
	NoPlan MatchResult = iota
	// Matched means the action matches the current plan step.
	Matched
	// FirstAttemptMatched means Matched, and this is the first attempt at
	// the current step.
	FirstAttemptMatched
	// OffPlan means a plan is active but the action matches no
	// current-or-future step.
	OffPlan
	// AheadOfPlan means a plan is active and the action matches a future
	// step rather than the current one.
	AheadOfPlan
)

// Match reports how action relates to p's current step, per spec §6's
// matcher: substring containment or full-token-subset match against
// action_pattern.
func Match(p *Plan, action string) MatchResult {
	if p == nil || p.CurrentStep >= len(p.Steps) {
		return NoPlan
	}

	current := p.Steps[p.CurrentStep]
	if matchesPattern(action, current.ActionPattern) {
		if !p.attempted {
			return FirstAttemptMatched
		}
		return Matched
	}

	for i := p.CurrentStep + 1; i < len(p.Steps); i++ {
		if matchesPattern(action, p.Steps[i].ActionPattern) {
			return AheadOfPlan
		}
	}
	return OffPlan
}

func matchesPattern(action, pattern string) bool {
	if pattern == "" {
		return false
	}
	lowerAction := strings.ToLower(action)
	lowerPattern := strings.ToLower(pattern)
	if strings.Contains(lowerAction, lowerPattern) || strings.Contains(lowerPattern, lowerAction) {
		return true
	}

	patternTokens := tokenset.Set(tokenset.Tokenize(pattern))
	actionTokens := tokenset.Tokenize(action)
	if len(patternTokens) == 0 || len(actionTokens) == 0 {
		return false
	}
	for _, t := range actionTokens {
		if _, ok := patternTokens[t]; !ok {
			return false
		}
	}
	return true
}

// MarkAttempted records that p's current step has now been attempted at
// least once, so a subsequent match reports Matched rather than
// FirstAttemptMatched.
func MarkAttempted(p *Plan) {
	if p != nil {
		p.attempted = true
	}
}

// Advance moves p to its next step when the current step's pattern has been
// satisfied, resetting the attempted flag for the new step.
func Advance(p *Plan) {
	if p == nil {
		return
	}
	p.CurrentStep++
	p.attempted = false
}

// Complete reports whether every step of p has been attempted/matched.
func Complete(p *Plan) bool {
	return p == nil || p.CurrentStep >= len(p.Steps)
}
