// Package kernel implements the scoring kernel (C1): Bernoulli entropy, the
// hierarchical goal-value rule, info gain, cost, memory bonus, plan bonus,
// and the Expected-Free-Energy functional that combines them into a single
// rankable score per spec §4.1.
package kernel

import (
	"math"
	"strings"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/geometry"
	"github.com/mrlecko/hcc/internal/tokenset"
	"github.com/mrlecko/hcc/memory"
	"github.com/mrlecko/hcc/planner"
	"github.com/mrlecko/hcc/quest"
)

// Entropy computes Bernoulli entropy in bits, with H(0) = H(1) = 0.
func Entropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// heuristicVerbs is the fixed acquisition/navigation vocabulary that earns
// the goal-value heuristic bonus (spec §4.1 "Heuristic term").
var heuristicVerbs = map[string]struct{}{
	"take": {}, "get": {}, "go": {}, "unlock": {}, "open": {},
	"move": {}, "insert": {}, "place": {}, "pick": {}, "push": {}, "pull": {},
}

// heuristicBonus is the flat additive bonus for an action any of whose
// tokens is drawn from heuristicVerbs. Spec §4.1 calls this "small"; not otherwise
// quantified, so it is set well below the dominant subgoal term (15) and
// quest term (5) it's added alongside.
const heuristicBonus = 1.0

// goalValueBase is added to goal_value regardless of whether a subgoal is
// active. Spec §4.1 names a `base` term in both branches of the hierarchical
// rule but never gives it a numeric value; zero is the only value that
// doesn't silently favor one domain over the other.
const goalValueBase = 0.0

func heuristicTerm(action string) float64 {
	tokens := tokenset.Tokenize(action)
	if len(tokens) == 0 {
		return 0
	}
	if _, ok := heuristicVerbs[tokens[0]]; ok {
		return heuristicBonus
	}
	for _, t := range tokens {
		if _, ok := heuristicVerbs[t]; ok {
			return heuristicBonus
		}
	}
	return 0
}

// GoalValue implements the hierarchical goal-value contract: with an active
// subgoal, the subgoal-overlap term dominates the quest-overlap term by
// construction (15 vs 5); without one, the subgoal term is entirely absent
// rather than present-and-zero, which is what lets the same scorer drive
// both free-exploration and strict sequential-quest domains.
func GoalValue(action string, subgoal *quest.Subgoal, questText string) float64 {
	heuristic := heuristicTerm(action)
	actionTokens := tokenset.Tokenize(action)
	questTokens := tokenset.Tokenize(questText)
	questOverlap := tokenOverlap(actionTokens, questTokens)
	questTerm := 5.0 * float64(questOverlap) / float64(max(1, len(dedupe(questTokens))))

	if subgoal == nil {
		return goalValueBase + questTerm + heuristic
	}

	subgoalTokens := tokenset.Tokenize(subgoal.Description)
	subgoalOverlap := tokenOverlap(actionTokens, subgoalTokens)
	subgoalTerm := 15.0 * float64(subgoalOverlap) / float64(max(1, len(dedupe(subgoalTokens))))

	return goalValueBase + subgoalTerm + questTerm + heuristic
}

func tokenOverlap(a, b []string) int {
	setA := tokenset.Set(a)
	count := 0
	seen := make(map[string]struct{}, len(b))
	for _, t := range b {
		if _, already := seen[t]; already {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := setA[t]; ok {
			count++
		}
	}
	return count
}

func dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// recentHistoryDefault bounds how many trailing history entries count as
// "recent" for info gain's 0.1 case, per spec §4.1 ("last five history
// entries"). Exposed through core.EFEConfig.RecentHistory so it's
// configurable rather than hard-coded.
const recentHistoryDefault = 5

// InfoGain implements spec §4.1's info-gain rule. triedInContext reports
// whether action has ever been attempted in the current context (false
// means 1.0, "never tried"); sensing reports whether action is a
// sensing/examining action; history is the recent action log, oldest first.
func InfoGain(action string, triedInContext, sensing bool, history []string, recentWindow int) float64 {
	if !triedInContext {
		return 1.0
	}
	if sensing {
		return 0.8
	}
	if recentWindow <= 0 {
		recentWindow = recentHistoryDefault
	}
	start := 0
	if len(history) > recentWindow {
		start = len(history) - recentWindow
	}
	for _, h := range history[start:] {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(action)) {
			return 0.1
		}
	}
	return 0.5
}

// Skill is the static cost/behaviour descriptor for an action, looked up by
// the agent core from its skill table.
type Skill struct {
	ID      string
	Cost    float64
	Sensing bool
}

// habitPenaltyWeight is the linear coefficient applied to an action's
// frequency in the recent window. Spec §4.1 only specifies "linear in the
// count"; 1.0 keeps the penalty on the same scale as skill.Cost so habit
// doesn't dominate a cheap skill's base cost.
const habitPenaltyWeight = 1.0

// Cost implements spec §4.1's cost rule: skill.Cost plus a penalty linear in
// how often action appears within the trailing habitWindow entries of
// history.
func Cost(skill Skill, action string, history []string, habitWindow int) float64 {
	if habitWindow <= 0 {
		habitWindow = 10
	}
	start := 0
	if len(history) > habitWindow {
		start = len(history) - habitWindow
	}
	count := 0
	for _, h := range history[start:] {
		if strings.EqualFold(strings.TrimSpace(h), strings.TrimSpace(action)) {
			count++
		}
	}
	return skill.Cost + habitPenaltyWeight*float64(count)
}

// MemoryBonus implements spec §4.1's memory-bonus rule: sum over retrieved
// memories of +2*confidence for a positive outcome, -5*confidence for a
// negative outcome, 0 for neutral. An empty list yields 0, satisfying law L4.
func MemoryBonus(memories []memory.RetrievedMemory) float64 {
	var total float64
	for _, m := range memories {
		switch m.Outcome {
		case memory.OutcomePositive:
			total += 2.0 * m.Confidence
		case memory.OutcomeNegative:
			total -= 5.0 * m.Confidence
		}
	}
	return total
}

// PlanBonus implements spec §4.1's plan-bonus rule via planner.Match.
func PlanBonus(plan *planner.Plan, action string) float64 {
	switch planner.Match(plan, action) {
	case planner.FirstAttemptMatched:
		return 12.0
	case planner.Matched:
		return 10.0
	case planner.OffPlan:
		return -1.0
	default: // planner.NoPlan, planner.AheadOfPlan
		return 0.0
	}
}

// Candidate bundles everything Score needs to evaluate a single action
// alongside its sibling candidates in one Select call.
type Candidate struct {
	Action string
	Skill  Skill

	Subgoal   *quest.Subgoal
	QuestText string

	TriedInContext bool
	History        []string

	Memories []memory.RetrievedMemory
	Plan     *planner.Plan
}

// Result is the full breakdown for one scored candidate: every EFE term,
// the combined score, and the silver-gauge geometry for introspection.
type Result struct {
	Action string `json:"action"`

	GoalValue   float64 `json:"goal_value"`
	InfoGain    float64 `json:"info_gain"`
	Cost        float64 `json:"cost"`
	MemoryBonus float64 `json:"memory_bonus"`
	PlanBonus   float64 `json:"plan_bonus"`

	Efe      float64        `json:"efe"`
	Geometry geometry.Shape `json:"geometry"`
}

// Score computes the full EFE breakdown for one candidate under cfg.
func Score(cfg core.EFEConfig, c Candidate) Result {
	goalValue := GoalValue(c.Action, c.Subgoal, c.QuestText)
	infoGain := InfoGain(c.Action, c.TriedInContext, c.Skill.Sensing, c.History, cfg.RecentHistory)
	cost := Cost(c.Skill, c.Action, c.History, cfg.HabitWindow)
	memoryBonus := MemoryBonus(c.Memories)
	planBonus := PlanBonus(c.Plan, c.Action)

	efe := cfg.Alpha*goalValue + cfg.Beta*infoGain - cfg.Gamma*cost + cfg.Delta*memoryBonus + cfg.Eps*planBonus

	return Result{
		Action:      c.Action,
		GoalValue:   goalValue,
		InfoGain:    infoGain,
		Cost:        cost,
		MemoryBonus: memoryBonus,
		PlanBonus:   planBonus,
		Efe:         efe,
		Geometry:    geometry.Analyze(goalValue, infoGain, cost),
	}
}

// Select scores every candidate and returns the one with the greatest Efe
// (spec §4.1's "optimisation convention" — see DESIGN.md Open Question 1).
// Ties are broken by candidate order: the first-seen maximum wins, so
// Select is deterministic for a fixed input order. Returns ok=false for an
// empty candidate list.
func Select(cfg core.EFEConfig, candidates []Candidate) (Result, []Result, bool) {
	if len(candidates) == 0 {
		return Result{}, nil, false
	}

	results := make([]Result, len(candidates))
	best := 0
	for i, c := range candidates {
		results[i] = Score(cfg, c)
		if results[i].Efe > results[best].Efe {
			best = i
		}
	}
	return results[best], results, true
}
