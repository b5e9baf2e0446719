package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/mrlecko/hcc/agent"
)

// lockedRoomEnvironment is the in-process stub environment the CLI drives
// when no quest is given. It implements agent.Environment directly and
// reproduces spec.md §8's locked-room scenarios (S1/S2): peek the door to
// resolve uncertainty about whether it's locked, then either try the door or
// climb out the window. A real environment adapter (TextWorld or otherwise)
// is out of scope for this module; this stub exists only to exercise the
// agent core end to end.
type lockedRoomEnvironment struct {
	locked bool
	peeked bool
}

func newLockedRoomEnvironment(seed int64) *lockedRoomEnvironment {
	return &lockedRoomEnvironment{locked: seed%2 != 0}
}

func (e *lockedRoomEnvironment) Reset(ctx context.Context) (agent.StepInput, error) {
	e.peeked = false
	return agent.StepInput{
		Observation: "a sturdy door on the east wall and a window on the north wall",
		Reward:      0,
		Done:        false,
		Candidates:  []string{"peek_door", "try_door", "go_window"},
	}, nil
}

func (e *lockedRoomEnvironment) Step(ctx context.Context, action string) (agent.StepInput, error) {
	switch strings.ToLower(strings.TrimSpace(action)) {
	case "peek_door":
		e.peeked = true
		if e.locked {
			return agent.StepInput{
				Observation: "you peek through the keyhole: the door is locked",
				Reward:      0,
				Done:        false,
				Candidates:  []string{"peek_door", "try_door", "go_window"},
			}, nil
		}
		return agent.StepInput{
			Observation: "you peek through the keyhole: the door is unlocked",
			Reward:      0,
			Done:        false,
			Candidates:  []string{"peek_door", "try_door", "go_window"},
		}, nil
	case "try_door":
		if e.locked {
			return agent.StepInput{
				Observation: "the door won't budge",
				Reward:      -0.1,
				Done:        false,
				Candidates:  []string{"peek_door", "try_door", "go_window"},
			}, nil
		}
		return agent.StepInput{
			Observation: "the door swings open, you escape through the door",
			Reward:      1.0,
			Done:        true,
			Candidates:  []string{"peek_door", "try_door", "go_window"},
		}, nil
	case "go_window":
		return agent.StepInput{
			Observation: "you climb out the window, you escape through the window",
			Reward:      1.0,
			Done:        true,
			Candidates:  []string{"peek_door", "try_door", "go_window"},
		}, nil
	default:
		return agent.StepInput{
			Observation: "nothing happens",
			Reward:      -0.1,
			Done:        false,
			Candidates:  []string{"peek_door", "try_door", "go_window"},
		}, nil
	}
}

// questEnvironment is the stub the CLI drives when --quest is given. It
// scripts the three-subgoal quest from spec.md §8 (S3): go east, take the
// nest, then place the nest in the dresser. Candidates match loosely against
// each subgoal by token overlap so the agent's own goal-value scoring (not
// the environment) is what drives subgoal-aware action selection.
type questEnvironment struct {
	questText string
	phase     int // 0: go east, 1: take nest, 2: place in dresser, 3: done
}

func newQuestEnvironment(questText string) *questEnvironment {
	return &questEnvironment{questText: questText}
}

var questCandidates = []string{
	"go east", "go west", "examine room",
	"take nest", "take twig",
	"place nest in dresser", "place nest on floor",
}

var questExpected = []string{"go east", "take nest", "place nest in dresser"}

func (e *questEnvironment) Reset(ctx context.Context) (agent.StepInput, error) {
	e.phase = 0
	return agent.StepInput{
		Observation: "you are in the starting room",
		Reward:      0,
		Done:        false,
		Candidates:  questCandidates,
		Quest:       e.questText,
	}, nil
}

func (e *questEnvironment) Step(ctx context.Context, action string) (agent.StepInput, error) {
	if e.phase >= len(questExpected) {
		return agent.StepInput{Observation: "the quest is already complete", Reward: 0, Done: true}, nil
	}

	expected := questExpected[e.phase]
	if strings.EqualFold(strings.TrimSpace(action), expected) {
		e.phase++
		obs := fmt.Sprintf("you %s", action)
		if e.phase == len(questExpected) {
			return agent.StepInput{
				Observation: obs + ", the quest is complete",
				Reward:      1.0,
				Done:        true,
				Candidates:  questCandidates,
				Quest:       e.questText,
			}, nil
		}
		return agent.StepInput{
			Observation: obs,
			Reward:      1.0,
			Done:        false,
			Candidates:  questCandidates,
			Quest:       e.questText,
		}, nil
	}

	return agent.StepInput{
		Observation: "nothing useful happens",
		Reward:      -0.1,
		Done:        false,
		Candidates:  questCandidates,
		Quest:       e.questText,
	}, nil
}

// beliefUpdater interprets the stub environments' observation strings into
// Belief, per spec §4.8 step 2. Both stub environments report their
// lock/subgoal state directly in the observation text rather than a
// structured Info payload, so this is the only place that parses it.
func beliefUpdater(prior agent.Belief, observation interface{}, reward float64, info map[string]interface{}) agent.Belief {
	next := prior
	obs, _ := observation.(string)
	next.ObservationDigest = obs

	switch {
	case strings.Contains(obs, "is unlocked"):
		next.PUnlocked, next.Entropy = 0.95, 0.05
	case strings.Contains(obs, "is locked"):
		next.PUnlocked, next.Entropy = 0.05, 0.05
	case prior.PUnlocked == 0 && prior.Entropy == 0 && strings.Contains(obs, "door"):
		next.PUnlocked, next.Entropy = 0.5, 0.5
	}

	if reward > 0 {
		next.ConsecutiveSuccesses = prior.ConsecutiveSuccesses + 1
		next.DistanceToGoal = 0
	} else {
		next.ConsecutiveSuccesses = 0
	}

	next.Room = "room"
	return next
}
