package kernel

import (
	"testing"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/geometry"
	"github.com/mrlecko/hcc/memory"
	"github.com/mrlecko/hcc/planner"
	"github.com/mrlecko/hcc/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntropyBoundaryValues(t *testing.T) {
	assert.Equal(t, 0.0, Entropy(0))
	assert.Equal(t, 0.0, Entropy(1))
	assert.InDelta(t, 1.0, Entropy(0.5), 1e-9)
}

func TestGoalValueSubgoalTermDominatesQuestTerm(t *testing.T) {
	sg := &quest.Subgoal{Description: "unlock the door"}
	withSubgoal := GoalValue("unlock door", sg, "unlock the door and explore the house")
	withoutSubgoal := GoalValue("unlock door", nil, "unlock the door and explore the house")

	assert.Greater(t, withSubgoal, withoutSubgoal)
}

// TestGoalValueAbsentNotZeroSubgoalTerm exercises spec §4.1: without an
// active subgoal, the subgoal term is absent, not present-and-zero — so an
// action with zero quest-overlap and no heuristic verb should score exactly
// the base value, not some residual from a zero-valued subgoal term.
func TestGoalValueAbsentNotZeroSubgoalTerm(t *testing.T) {
	got := GoalValue("xyzzy", nil, "")
	assert.Equal(t, goalValueBase, got)
}

func TestInfoGainPriorityOrder(t *testing.T) {
	assert.Equal(t, 1.0, InfoGain("open door", false, false, nil, 5))
	assert.Equal(t, 0.8, InfoGain("examine door", true, true, nil, 5))
	assert.Equal(t, 0.1, InfoGain("open door", true, false, []string{"look", "open door"}, 5))
	assert.Equal(t, 0.5, InfoGain("open door", true, false, []string{"look", "wait"}, 5))
}

func TestCostGrowsWithHabitFrequency(t *testing.T) {
	skill := Skill{ID: "open", Cost: 1.0}
	history := []string{"open door", "open door", "open door", "look"}
	assert.InDelta(t, 1.0+3.0, Cost(skill, "open door", history, 10), 1e-9)
	assert.Equal(t, 1.0, Cost(skill, "take key", history, 10))
}

// TestMemoryBonusEmptyIsZero is law L4.
func TestMemoryBonusEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0.0, MemoryBonus(nil))
}

func TestMemoryBonusWeightsOutcomes(t *testing.T) {
	memories := []memory.RetrievedMemory{
		{Outcome: memory.OutcomePositive, Confidence: 0.5},
		{Outcome: memory.OutcomeNegative, Confidence: 0.2},
		{Outcome: memory.OutcomeNeutral, Confidence: 0.9},
	}
	assert.InDelta(t, 2.0*0.5-5.0*0.2, MemoryBonus(memories), 1e-9)
}

func TestPlanBonusMatchesSpecRule(t *testing.T) {
	plan := &planner.Plan{Steps: []planner.PlanStep{
		{Description: "unlock", ActionPattern: "unlock door"},
		{Description: "open", ActionPattern: "open door"},
	}}

	assert.Equal(t, 12.0, PlanBonus(plan, "unlock door"))
	planner.MarkAttempted(plan)
	assert.Equal(t, 10.0, PlanBonus(plan, "unlock door"))
	assert.Equal(t, -1.0, PlanBonus(plan, "take key"))
	assert.Equal(t, 0.0, PlanBonus(nil, "unlock door"))
}

// TestSelectPicksGreatestEfe is Open Question 1's resolution: highest EFE wins.
func TestSelectPicksGreatestEfe(t *testing.T) {
	cfg := core.EFEConfig{Alpha: 3.0, Beta: 2.0, Gamma: 1.5, Delta: 1.5, Eps: 2.0, HabitWindow: 10, RecentHistory: 5}
	sg := &quest.Subgoal{Description: "unlock the door"}

	candidates := []Candidate{
		{Action: "unlock door", Skill: Skill{ID: "unlock", Cost: 1.0}, Subgoal: sg, QuestText: "unlock the door"},
		{Action: "wait", Skill: Skill{ID: "wait", Cost: 0.1}, Subgoal: sg, QuestText: "unlock the door"},
	}

	best, all, ok := Select(cfg, candidates)
	require.True(t, ok)
	require.Len(t, all, 2)
	assert.Equal(t, "unlock door", best.Action)
}

func TestSelectEmptyCandidatesNotOk(t *testing.T) {
	cfg := core.EFEConfig{}
	_, _, ok := Select(cfg, nil)
	assert.False(t, ok)
}

// TestScoreSatisfiesPythagoreanInequality is invariant I2, exercised through
// the kernel's own geometry wiring rather than geometry's package tests.
func TestScoreSatisfiesPythagoreanInequality(t *testing.T) {
	cfg := core.EFEConfig{Alpha: 3.0, Beta: 2.0, Gamma: 1.5, Delta: 1.5, Eps: 2.0, HabitWindow: 10, RecentHistory: 5}
	c := Candidate{Action: "open door", Skill: Skill{ID: "open", Cost: 1.0}, QuestText: "open the door"}
	result := Score(cfg, c)
	assert.True(t, geometry.SatisfiesPythagoreanInequality(result.Geometry, 1e-9))
}
