package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/memory"
	"github.com/mrlecko/hcc/monitor"
	"github.com/mrlecko/hcc/planner"
)

func newTestCore(opts ...Option) *Core {
	cfg := core.DefaultConfig()
	c := NewCore(cfg, opts...)
	c.Reset("")
	return c
}

// TestStepSelectsFromOfferedCandidates is invariant I3: the committed action
// must always be a member of the candidate list passed into that step.
func TestStepSelectsFromOfferedCandidates(t *testing.T) {
	c := newTestCore()
	candidates := []string{"go north", "go south", "examine room"}

	result, err := c.Step(context.Background(), StepInput{Candidates: candidates})
	require.NoError(t, err)
	assert.Contains(t, candidates, result.Action)
}

// TestStepFallsBackOnEmptyCandidates covers spec §4.8 step 6: malformed or
// empty candidates degrade to the configured fallback action rather than
// erroring.
func TestStepFallsBackOnEmptyCandidates(t *testing.T) {
	c := newTestCore()
	result, err := c.Step(context.Background(), StepInput{Candidates: []string{"", "   "}})
	require.NoError(t, err)
	assert.Equal(t, "look", result.Action)
	assert.Equal(t, monitor.FLOW, result.CriticalState)
}

// TestResetClearsHistoriesButKeepsFailedPaths exercises spec §4.8's Reset
// semantics: everything episode-scoped clears, but the failed-path set is
// cross-episode and must survive.
func TestResetClearsHistoriesButKeepsFailedPaths(t *testing.T) {
	c := newTestCore()
	ctx := context.Background()

	_, err := c.Step(ctx, StepInput{Candidates: []string{"open door"}})
	require.NoError(t, err)
	// A negative reward on the following step blames the just-taken
	// (state, action) pair into the persistent failed-path set.
	_, err = c.Step(ctx, StepInput{Reward: -1, Candidates: []string{"open door", "go north"}})
	require.NoError(t, err)

	require.NotEmpty(t, c.trajectory)
	oldEpisodeID := c.episodeID

	c.Reset("")
	assert.NotEqual(t, oldEpisodeID, c.episodeID)
	assert.Empty(t, c.actionHistory)
	assert.Empty(t, c.trajectory)
	assert.Zero(t, c.totalReward)

	// failedPaths itself is never cleared by Reset.
	assert.True(t, c.failedPaths.Contains("", "open door"))
}

// TestFailedPathBiasDemotesBlamedCandidate confirms the bias computed from
// BlameLastN actually changes which action the tactical argmax would have
// picked, unless every candidate is blamed.
func TestFailedPathBiasDemotesBlamedCandidate(t *testing.T) {
	c := newTestCore()
	c.failedPaths.Blame([]monitor.StatePair{{StateToken: "", ActionToken: "go north"}})

	candidates := []monitor.Candidate{
		{Action: "go north", Score: 5.0},
		{Action: "go south", Score: 1.0},
	}
	adjusted := monitor.ApplyFailedPathBias(c.failedPaths, "", candidates)
	assert.Less(t, adjusted[0].Score, adjusted[1].Score)
}

// TestEndPersistsEpisodeAndUpdatesProceduralMemory covers spec §4.8's "End of
// episode": every step's action gets a procedural-memory record with the
// episode's uniform outcome.
func TestEndPersistsEpisodeAndUpdatesProceduralMemory(t *testing.T) {
	c := newTestCore()
	ctx := context.Background()

	_, err := c.Step(ctx, StepInput{Candidates: []string{"take key"}})
	require.NoError(t, err)
	_, err = c.Step(ctx, StepInput{Reward: 1, Candidates: []string{"unlock door"}})
	require.NoError(t, err)

	require.NoError(t, c.End(ctx, true))

	contextKey := memory.ContextKey(c.belief.PUnlocked, c.activeSubgoalDescription())
	rate, uses, err := c.procedural.SuccessRate(ctx, "take key", contextKey)
	require.NoError(t, err)
	assert.Equal(t, 1, uses)
	assert.Equal(t, 1.0, rate)
}

// TestAdvancePlanOnProgressRequiresConfirmedReward exercises the chosen
// resolution for plan-step advancement: a match alone only marks the step
// attempted, and the plan only advances once the following reward is
// positive.
func TestAdvancePlanOnProgressRequiresConfirmedReward(t *testing.T) {
	c := newTestCore()
	c.activePlan = &planner.Plan{
		Goal: "escape the house",
		Steps: []planner.PlanStep{
			{Description: "open the door", ActionPattern: "open door"},
			{Description: "go outside", ActionPattern: "go outside"},
		},
	}
	c.lastAction = "open door"

	c.advancePlanOnProgress(-1)
	assert.Equal(t, 0, c.activePlan.CurrentStep)

	c.advancePlanOnProgress(1)
	assert.Equal(t, 1, c.activePlan.CurrentStep)
}
