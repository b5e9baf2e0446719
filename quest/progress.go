package quest

import "github.com/mrlecko/hcc/internal/tokenset"

// ProgressConfig holds the tunables for the evidence-accumulation rule.
type ProgressConfig struct {
	JaccardThreshold float64 // default 0.6
	AdvanceThreshold float64 // default 1.5
	WindowSize       int     // default 3
}

// DefaultProgressConfig returns the spec §4.5 defaults.
func DefaultProgressConfig() ProgressConfig {
	return ProgressConfig{JaccardThreshold: 0.6, AdvanceThreshold: 1.5, WindowSize: 3}
}

// Tracker advances a Quest's current subgoal index from step evidence.
type Tracker struct {
	cfg    ProgressConfig
	quest  *Quest
	window []float64

	// lastObservation is retained to compute the Jaccard-change evidence term.
	lastObservation string
}

// NewTracker attaches a Tracker to quest using cfg.
func NewTracker(quest *Quest, cfg ProgressConfig) *Tracker {
	return &Tracker{cfg: cfg, quest: quest}
}

// Reset clears the evidence window and observation baseline. Called by the
// agent core on episode reset; it does not touch the failed-path set.
func (t *Tracker) Reset(quest *Quest) {
	t.quest = quest
	t.window = nil
	t.lastObservation = ""
}

// Update computes the evidence weight for the just-executed step and
// advances the quest's current subgoal if the accumulated evidence in the
// trailing window exceeds cfg.AdvanceThreshold. Returns questComplete=true
// exactly once, on the step that completes the final subgoal.
func (t *Tracker) Update(action string, reward float64, observation string) (advanced bool, questComplete bool) {
	if t.quest == nil || t.quest.Complete() {
		return false, false
	}

	w := t.evidenceWeight(action, reward, observation)
	t.lastObservation = observation

	t.window = append(t.window, w)
	if len(t.window) > t.cfg.WindowSize {
		t.window = t.window[len(t.window)-t.cfg.WindowSize:]
	}

	sum := 0.0
	for _, v := range t.window {
		sum += v
	}

	if sum <= t.cfg.AdvanceThreshold {
		return false, false
	}
	if t.quest.CurrentIndex >= len(t.quest.Subgoals)-1 {
		// Already on the final subgoal: mark it complete but do not advance
		// current_index past len(subgoals)-1, per spec §4.5.
		if !t.quest.Subgoals[t.quest.CurrentIndex].Completed {
			t.quest.Subgoals[t.quest.CurrentIndex].Completed = true
			t.window = nil
			return false, true
		}
		return false, false
	}

	t.quest.Subgoals[t.quest.CurrentIndex].Completed = true
	t.quest.CurrentIndex++
	t.window = nil

	return true, false
}

func (t *Tracker) evidenceWeight(action string, reward float64, observation string) float64 {
	if reward > 0 {
		return 1.0
	}
	if t.lastObservation != "" && tokenset.Jaccard(t.lastObservation, observation) < t.cfg.JaccardThreshold {
		return 0.6
	}
	if sg := t.quest.Active(); sg != nil && tokenset.SharesToken(action, sg.Description) {
		return 0.3
	}
	return 0.0
}
