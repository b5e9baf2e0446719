// Package monitor implements the Critical-State Monitor (C6): the six-state
// meta-cognitive layer plus terminal ESCALATION, dual-threshold PANIC
// hysteresis, an oscillation safety net, quest-aware suppression, the
// procedural-memory veto, and multi-step credit assignment into a
// persistent failed-path set (spec §4.6).
//
// Grounded on resilience.CircuitBreaker's shape: a small state machine that
// evaluates a sliding window of recent outcomes and decides whether to
// override the caller's default behaviour, with the same closed/open-style
// hysteresis this package's PANIC state reuses almost verbatim.
package monitor

import (
	"strings"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/internal/tokenset"
)

// State is one of the six meta-cognitive states plus the terminal escalation.
type State int

const (
	FLOW State = iota
	PANIC
	DEADLOCK
	SCARCITY
	NOVELTY
	HUBRIS
	ESCALATION
)

func (s State) String() string {
	switch s {
	case FLOW:
		return "flow"
	case PANIC:
		return "panic"
	case DEADLOCK:
		return "deadlock"
	case SCARCITY:
		return "scarcity"
	case NOVELTY:
		return "novelty"
	case HUBRIS:
		return "hubris"
	case ESCALATION:
		return "escalation"
	default:
		return "unknown"
	}
}

// sensingVerbs are the "safest candidate" verbs PANIC and NOVELTY prefer.
var sensingVerbs = map[string]struct{}{
	"look": {}, "examine": {}, "inventory": {}, "sense": {}, "listen": {}, "search": {},
}

// Candidate is the slice of a scored action the monitor needs to pick an
// override: its tactical score (kernel.Result.Efe) and goal value, and
// whether it reads as a sensing/examining action.
type Candidate struct {
	Action    string
	Score     float64
	GoalValue float64
	Sensing   bool
}

// Signal is everything the monitor needs to observe for one step, gathered
// by the agent core from belief, history, and the progress tracker.
type Signal struct {
	Entropy      float64
	NoveltyScore float64

	// Locations and Actions are recent-history windows, oldest first.
	Locations []string
	Actions   []string

	// StepsLimited gates the "steps_remaining < 2" escalation trigger: a
	// domain with no step budget leaves this false so the zero-value
	// StepsRemaining doesn't read as "almost out of steps".
	StepsLimited       bool
	StepsRemaining     int
	DistanceToGoal     float64 // 0 means "use UnfinishedSubgoals analogue"
	UnfinishedSubgoals int

	ConsecutiveSuccesses int
	RewardPositiveLast3  bool

	QuestActive              bool
	ActiveSubgoalDescription string
}

// Result is the monitor's verdict for one step.
type Result struct {
	State       State
	Cause       string
	Action      string // the override action, if HasOverride
	HasOverride bool
	Terminate   bool
}

// Monitor holds the per-agent hysteresis and history state. Not safe for
// concurrent use — spec §5 mandates single-threaded cooperative scheduling
// per agent instance.
type Monitor struct {
	cfg core.MonitorConfig

	inPanic           bool
	stateHistory      []State
	oscillatingStreak int
}

// NewMonitor creates a Monitor evaluated against cfg.
func NewMonitor(cfg core.MonitorConfig) *Monitor {
	return &Monitor{cfg: cfg}
}

// Reset clears hysteresis and history at the start of a new episode. The
// failed-path set is intentionally not owned by Monitor — spec §4.8's Reset
// step says it survives across episodes, so the agent core holds it
// separately and never resets it here.
func (m *Monitor) Reset() {
	m.inPanic = false
	m.stateHistory = nil
	m.oscillatingStreak = 0
}

// Evaluate runs one step of the critical-state machine and, if a state other
// than FLOW applies, selects an override action from candidates.
func (m *Monitor) Evaluate(signal Signal, candidates []Candidate) Result {
	raw, cause := m.rawState(signal)

	if signal.QuestActive && suppressed(signal) && raw != ESCALATION {
		raw, cause = FLOW, ""
	}

	final, finalCause := m.applyOscillation(raw, cause)
	final, finalCause = m.applyEscalationTriggers(signal, final, finalCause)

	m.stateHistory = append(m.stateHistory, final)
	if max := 2 * m.cfg.OscillationWindow; max > 0 && len(m.stateHistory) > max {
		m.stateHistory = m.stateHistory[len(m.stateHistory)-max:]
	}

	result := Result{State: final, Cause: finalCause, Terminate: final == ESCALATION}
	if action, ok := m.selectOverride(final, signal, candidates); ok {
		result.Action = action
		result.HasOverride = true
	}
	return result
}

// rawState evaluates the trigger table in priority order PANIC > DEADLOCK >
// SCARCITY > NOVELTY > HUBRIS > FLOW. The table itself doesn't rank
// simultaneous triggers; PANIC (an entropy safety signal) is given top
// priority since every other state assumes the agent can still reason about
// its candidates, which high entropy calls into question.
func (m *Monitor) rawState(signal Signal) (State, string) {
	if m.updatePanicHysteresis(signal.Entropy) {
		return PANIC, "entropy_high"
	}
	if isDeadlocked(signal.Locations, m.windowOrDefault(m.cfg.DeadlockWindow, 4)) {
		return DEADLOCK, "location_cycle"
	}
	if isScarce(signal) {
		return SCARCITY, "steps_scarce"
	}
	if signal.NoveltyScore > m.cfg.NoveltyTh {
		return NOVELTY, "novelty_high"
	}
	if signal.ConsecutiveSuccesses >= m.windowOrDefault(m.cfg.HubrisStreak, 5) && signal.Entropy <= orDefault(m.cfg.HubrisEntropyMax, 0.1) {
		return HUBRIS, "success_streak"
	}
	return FLOW, ""
}

func (m *Monitor) updatePanicHysteresis(entropy float64) bool {
	high := orDefault(m.cfg.HighEntropy, 0.45)
	low := orDefault(m.cfg.LowEntropy, 0.35)
	if m.inPanic {
		if entropy < low {
			m.inPanic = false
		}
	} else if entropy > high {
		m.inPanic = true
	}
	return m.inPanic
}

func isDeadlocked(locations []string, window int) bool {
	if len(locations) < window || window < 4 {
		return false
	}
	w := locations[len(locations)-window:]
	n := len(w)
	return w[n-4] == w[n-2] && w[n-3] == w[n-1] && w[n-4] != w[n-3]
}

func isScarce(signal Signal) bool {
	if signal.DistanceToGoal > 0 {
		return float64(signal.StepsRemaining) < 1.2*signal.DistanceToGoal
	}
	return float64(signal.StepsRemaining) < float64(signal.UnfinishedSubgoals)*2
}

// suppressed implements the four quest-aware suppression conditions; any
// one holding forces FLOW regardless of other triggers.
func suppressed(signal Signal) bool {
	if signal.RewardPositiveLast3 {
		return true
	}
	if tokenset.Unique(lastN(signal.Locations, 5)) >= 3 {
		return true
	}
	for _, a := range lastN(signal.Actions, 3) {
		if tokenset.SharesToken(a, signal.ActiveSubgoalDescription) {
			return true
		}
	}
	if tokenset.Unique(lastN(signal.Actions, 4)) >= 3 {
		return true
	}
	return false
}

func lastN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// applyOscillation forces PANIC when more than cfg.OscillationMaxTrans
// transitions occur within the trailing cfg.OscillationWindow states
// (including the tentative one being decided this step).
func (m *Monitor) applyOscillation(raw State, cause string) (State, string) {
	window := m.windowOrDefault(m.cfg.OscillationWindow, 5)
	maxTrans := m.windowOrDefault(m.cfg.OscillationMaxTrans, 2)

	tentative := append(append([]State{}, m.stateHistory...), raw)
	if len(tentative) > window {
		tentative = tentative[len(tentative)-window:]
	}

	transitions := 0
	for i := 1; i < len(tentative); i++ {
		if tentative[i] != tentative[i-1] {
			transitions++
		}
	}

	oscillating := transitions > maxTrans
	if oscillating {
		m.oscillatingStreak++
	} else {
		m.oscillatingStreak = 0
	}

	if oscillating && raw != ESCALATION {
		return PANIC, "oscillation"
	}
	return raw, cause
}

// applyEscalationTriggers checks the ESCALATION meta-triggers against the
// history as it will read once this step's final state is appended.
func (m *Monitor) applyEscalationTriggers(signal Signal, final State, cause string) (State, string) {
	if signal.StepsLimited && signal.StepsRemaining < 2 {
		return ESCALATION, "steps_exhausted"
	}

	projected := append(append([]State{}, m.stateHistory...), final)

	if countState(lastN(toStrings(projected), 5), PANIC.String()) >= 3 {
		return ESCALATION, "repeated_panic"
	}
	if countState(lastN(toStrings(projected), 10), DEADLOCK.String()) >= 2 {
		return ESCALATION, "repeated_deadlock"
	}
	if m.oscillatingStreak >= 2 {
		return ESCALATION, "persistent_oscillation"
	}
	return final, cause
}

func toStrings(states []State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.String()
	}
	return out
}

func countState(window []string, target string) int {
	count := 0
	for _, s := range window {
		if s == target {
			count++
		}
	}
	return count
}

func (m *Monitor) windowOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// selectOverride picks the action the protocol column of spec §4.6's table
// prescribes for state. FLOW returns ok=false: the tactical choice stands.
func (m *Monitor) selectOverride(state State, signal Signal, candidates []Candidate) (string, bool) {
	switch state {
	case FLOW:
		return "", false
	case PANIC:
		return pickSensingOrBest(candidates, m.cfg.FallbackAction)
	case DEADLOCK:
		return pickNotRecentlyUsed(candidates, signal.Actions)
	case SCARCITY:
		return pickHighestGoalValue(candidates)
	case NOVELTY:
		return pickExploratoryNotLast(candidates, signal.Actions)
	case HUBRIS:
		return pickSecondBestOrSensing(candidates)
	case ESCALATION:
		return pickBestAvailable(candidates, m.cfg.FallbackAction)
	default:
		return "", false
	}
}

// SelectPanicSafe applies PANIC's "prefer sensing" protocol directly,
// exposed for the memory veto (spec §4.6): a choice demoted by the veto is
// PANIC-style safe behaviour without actually transitioning the monitor's
// own state history, since the veto is independent of the trigger table.
func SelectPanicSafe(candidates []Candidate, fallback string) (string, bool) {
	return pickSensingOrBest(candidates, fallback)
}

func isSensing(c Candidate) bool {
	if c.Sensing {
		return true
	}
	tokens := tokenset.Tokenize(c.Action)
	for _, t := range tokens {
		if _, ok := sensingVerbs[t]; ok {
			return true
		}
	}
	return false
}

func pickSensingOrBest(candidates []Candidate, fallback string) (string, bool) {
	var best *Candidate
	for i := range candidates {
		if isSensing(candidates[i]) {
			c := candidates[i]
			if best == nil || c.Score > best.Score {
				best = &candidates[i]
			}
		}
	}
	if best != nil {
		return best.Action, true
	}
	return pickBestAvailable(candidates, fallback)
}

func pickBestAvailable(candidates []Candidate, fallback string) (string, bool) {
	if len(candidates) == 0 {
		if fallback == "" {
			fallback = "look"
		}
		return fallback, true
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best.Action, true
}

func pickNotRecentlyUsed(candidates []Candidate, recentActions []string) (string, bool) {
	recent := make(map[string]struct{}, len(recentActions))
	for _, a := range recentActions {
		recent[strings.ToLower(strings.TrimSpace(a))] = struct{}{}
	}
	var best *Candidate
	for i := range candidates {
		if _, used := recent[strings.ToLower(strings.TrimSpace(candidates[i].Action))]; used {
			continue
		}
		if best == nil || candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	if best != nil {
		return best.Action, true
	}
	return pickBestAvailable(candidates, "")
}

func pickHighestGoalValue(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.GoalValue > best.GoalValue {
			best = c
		}
	}
	return best.Action, true
}

func pickExploratoryNotLast(candidates []Candidate, recentActions []string) (string, bool) {
	var last string
	if len(recentActions) > 0 {
		last = strings.ToLower(strings.TrimSpace(recentActions[len(recentActions)-1]))
	}
	var best *Candidate
	for i := range candidates {
		if strings.ToLower(strings.TrimSpace(candidates[i].Action)) == last {
			continue
		}
		if !isSensing(candidates[i]) {
			continue
		}
		if best == nil || candidates[i].Score > best.Score {
			best = &candidates[i]
		}
	}
	if best != nil {
		return best.Action, true
	}
	return pickNotRecentlyUsed(candidates, recentActions)
}

func pickSecondBestOrSensing(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	sorted := append([]Candidate{}, candidates...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Score > sorted[i].Score {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	if len(sorted) >= 2 {
		return sorted[1].Action, true
	}
	for _, c := range candidates {
		if isSensing(c) {
			return c.Action, true
		}
	}
	return sorted[0].Action, true
}
