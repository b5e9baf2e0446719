// Package agent implements the per-step orchestration (C8) per spec §4.8: it
// owns Belief, the active Quest, the current episode's histories, and the
// persistent failed-path set, and drives C1 (kernel), C2/C3 (memory), C4/C5
// (quest), and C6 (monitor) through one step in the sequence the spec names.
package agent

import (
	"time"

	"github.com/mrlecko/hcc/geometry"
	"github.com/mrlecko/hcc/kernel"
	"github.com/mrlecko/hcc/monitor"
)

// Belief is the agent's opaque internal state. The core never interprets its
// fields beyond what the scoring kernel and critical-state monitor need;
// everything else is domain-specific and maintained entirely by the
// caller-supplied BeliefUpdater.
type Belief struct {
	// Room is a domain-provided location token, used for deadlock detection
	// and episodic-memory retrieval. Empty in domains with no notion of
	// location.
	Room string

	// Entropy is the belief-entropy summary in [0,1] the monitor consumes for
	// PANIC, per spec §4.1: "a domain-provided summary... e.g. fraction of
	// unexplored neighbours" when a single scalar probability isn't natural.
	Entropy float64

	// NoveltyScore is the observation prediction error the monitor compares
	// against T_novelty.
	NoveltyScore float64

	// PUnlocked is the domain's confidence the active objective is already
	// achievable (e.g. a door is unlocked); used only for procedural-memory
	// context keying. Domains with no natural scalar should leave this 0.5.
	PUnlocked float64

	// ObservationDigest is a short, comparable string summary of the last
	// observation, used by the progress tracker's Jaccard-change evidence
	// term and by episodic retrieval.
	ObservationDigest string

	// ConsecutiveSuccesses and DistanceToGoal feed HUBRIS/SCARCITY directly;
	// domains without a natural distance metric leave DistanceToGoal at 0,
	// which triggers the UnfinishedSubgoals analogue instead (spec §4.6).
	ConsecutiveSuccesses int
	DistanceToGoal       float64
}

// BeliefUpdater computes the next Belief from the prior one and the
// environment's latest observation, per spec §4.8 step 2. The core treats
// this as an opaque domain hook.
type BeliefUpdater func(prior Belief, observation interface{}, reward float64, info map[string]interface{}) Belief

// SkillLookup resolves an action string to its static cost/behaviour
// descriptor, used by the scoring kernel's cost term.
type SkillLookup func(action string) kernel.Skill

// StepInput is what the environment supplies for one step, per spec §6's
// Environment interface.
type StepInput struct {
	Observation interface{}
	Reward      float64
	Done        bool
	Candidates  []string
	Quest       string // empty means "no change"
	Info        map[string]interface{}
}

// StepResult is the agent core's per-step verdict: the committed action plus
// everything attached to the step record for introspection.
type StepResult struct {
	Action        string
	CriticalState monitor.State
	Cause         string
	Escalated     bool // episode must terminate with an escalation cause
	QuestComplete bool
	Geometry      geometry.Shape
	Efe           float64
	StepIndex     int
}

// RunSummary is the JSON-serialisable projection of a finished episode,
// returned by the CLI on completion (SPEC_FULL.md §3.1).
type RunSummary struct {
	EpisodeID            string    `json:"episode_id"`
	Success              bool      `json:"success"`
	TotalReward          float64   `json:"total_reward"`
	Steps                int       `json:"steps"`
	CriticalStateHistory []string  `json:"critical_state_history"`
	Escalated            bool      `json:"escalated"`
	FinishedAt           time.Time `json:"finished_at"`
}
