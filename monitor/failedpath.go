package monitor

import (
	"fmt"
	"sync"

	"github.com/mrlecko/hcc/core"
)

// StatePair is one (state, action) pair as it's recorded into a trajectory
// or consulted against the failed-path set.
type StatePair struct {
	StateToken  string
	ActionToken string
}

func (p StatePair) key() string {
	return fmt.Sprintf("%s::%s", p.StateToken, p.ActionToken)
}

// FailedPathSet is the persistent, cross-episode record of (state, action)
// pairs blamed for a catastrophic outcome (spec §4.6 "Multi-step credit
// assignment"). The agent core owns one instance for the lifetime of the
// process and must never clear it on episode Reset.
type FailedPathSet struct {
	mu     sync.RWMutex
	blamed map[string]struct{}
}

// NewFailedPathSet creates an empty set.
func NewFailedPathSet() *FailedPathSet {
	return &FailedPathSet{blamed: make(map[string]struct{})}
}

// Blame marks every pair in pairs as blamed.
func (f *FailedPathSet) Blame(pairs []StatePair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range pairs {
		f.blamed[p.key()] = struct{}{}
	}
}

// Contains reports whether (stateToken, actionToken) has been blamed.
func (f *FailedPathSet) Contains(stateToken, actionToken string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.blamed[StatePair{StateToken: stateToken, ActionToken: actionToken}.key()]
	return ok
}

// BlameLastN marks the last n entries of trajectory (most recent last) as
// blamed, per spec §4.6: "mark not only the last (state, action) pair but
// the previous N=3 pairs". Called by the agent core when a step returns
// reward < 0 or an environment-signalled catastrophe.
func BlameLastN(set *FailedPathSet, trajectory []StatePair, n int) {
	if n <= 0 || len(trajectory) == 0 {
		return
	}
	start := 0
	if len(trajectory) > n {
		start = len(trajectory) - n
	}
	set.Blame(trajectory[start:])
}

// failedPathBiasPenalty is subtracted from a blamed candidate's tactical
// score, per spec §4.6: "receives an overriding negative bias". Large
// enough to outrank any plausible EFE magnitude without special-casing
// negative infinity (which would break the "unless no alternative exists"
// fallback below).
const failedPathBiasPenalty = 1000.0

// ApplyFailedPathBias demotes the score of every candidate whose
// (stateToken, action) pair is in set, unless every candidate is blamed — in
// which case none are demoted, since the spec requires at least one
// candidate to remain selectable ("unless no alternative exists").
func ApplyFailedPathBias(set *FailedPathSet, stateToken string, candidates []Candidate) []Candidate {
	if set == nil || len(candidates) == 0 {
		return candidates
	}

	blamedCount := 0
	for _, c := range candidates {
		if set.Contains(stateToken, c.Action) {
			blamedCount++
		}
	}
	if blamedCount == len(candidates) {
		return candidates
	}

	adjusted := make([]Candidate, len(candidates))
	copy(adjusted, candidates)
	for i := range adjusted {
		if set.Contains(stateToken, adjusted[i].Action) {
			adjusted[i].Score -= failedPathBiasPenalty
		}
	}
	return adjusted
}

// MemoryVeto implements spec §4.6's memory-veto rule: a tactical choice the
// monitor would otherwise leave unmodified is demoted to PANIC-safe
// behaviour when the acting skill's procedural success rate is below
// threshold and has been observed enough times to trust the statistic.
func MemoryVeto(cfg core.MonitorConfig, successRate float64, uses int) bool {
	threshold := orDefault(cfg.MemoryVetoThreshold, 0.5)
	minUses := cfg.MemoryVetoMinUses
	if minUses <= 0 {
		minUses = 3
	}
	return uses >= minUses && successRate < threshold
}
