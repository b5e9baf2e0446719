// Package quest decomposes a natural-language quest into ordered subgoals
// and tracks progress through them (spec §4.4, §4.5).
package quest

import "time"

// Subgoal is one element of a quest's ordered decomposition.
//
// Invariant: Completed never transitions from true back to false within an
// episode (spec §3 invariant I3-equivalent).
type Subgoal struct {
	Index          int       `json:"index"`
	Description    string    `json:"description"`
	Completed      bool      `json:"completed"`
	Attempts       int       `json:"attempts"`
	ActiveFromStep int       `json:"active_from_step"`
	completedAt    time.Time `json:"-"`
}

// Quest is a decomposed natural-language goal plus progress state.
//
// Invariant: 0 <= CurrentIndex <= len(Subgoals); Subgoals[0:CurrentIndex]
// are all Completed; Subgoals[CurrentIndex+1:] are all not Completed.
// Subgoals[CurrentIndex] is Completed only when it is the final subgoal:
// the tracker completes the final subgoal in place without advancing
// CurrentIndex past len(Subgoals)-1.
type Quest struct {
	Text         string    `json:"text"`
	Subgoals     []Subgoal `json:"subgoals"`
	CurrentIndex int       `json:"current_index"`
}

// Active returns the current subgoal, or nil if the quest has no subgoals
// or all subgoals are complete.
func (q *Quest) Active() *Subgoal {
	if q == nil || q.Complete() {
		return nil
	}
	return &q.Subgoals[q.CurrentIndex]
}

// Complete reports whether every subgoal has been completed.
func (q *Quest) Complete() bool {
	if q == nil {
		return false
	}
	if q.CurrentIndex >= len(q.Subgoals) {
		return true
	}
	return q.Subgoals[len(q.Subgoals)-1].Completed
}
