// Package staticplanner provides a table-driven Planner with no network
// dependency, for tests and for embedding without an LLM configured.
package staticplanner

import (
	"context"

	"github.com/mrlecko/hcc/planner"
)

// Planner returns a fixed plan for any goal matching a key in Table, or a
// nil plan and a nil error when the goal is unrecognised.
type Planner struct {
	Table map[string]*planner.Plan
}

// New creates a Planner over the given goal->plan table.
func New(table map[string]*planner.Plan) *Planner {
	return &Planner{Table: table}
}

// Plan looks up goal in p.Table. It never blocks and never errors on a
// miss — it simply returns nil, matching "proceed without a plan" (spec §7).
func (p *Planner) Plan(ctx context.Context, goal, contextStr string, recentFailures []string) (*planner.Plan, error) {
	if plan, ok := p.Table[goal]; ok {
		clone := *plan
		clone.CurrentStep = 0
		steps := make([]planner.PlanStep, len(plan.Steps))
		copy(steps, plan.Steps)
		clone.Steps = steps
		return &clone, nil
	}
	return nil, nil
}
