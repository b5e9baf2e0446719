// Package memory implements procedural memory (C2) and episodic memory (C3)
// per spec §4.2/§4.3. Both are advisory: a backend failure degrades to the
// neutral prior (procedural) or an empty retrieval (episodic), never an
// error the scorer has to handle.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/mrlecko/hcc/core"
)

// NeutralPrior is returned by SuccessRate when a (skill, context) pair has
// never been observed.
const NeutralPrior = 0.5

// ProceduralRow is the persisted shape of a procedural-memory record.
//
// Invariant: Uses == Successes + Failures after every update (spec I5).
type ProceduralRow struct {
	SkillID                string  `json:"skill_id"`
	ContextKey             string  `json:"context_key"`
	Uses                   int     `json:"uses"`
	Successes              int     `json:"successes"`
	Failures               int     `json:"failures"`
	AvgStepsWhenSuccessful float64 `json:"avg_steps_when_successful"`
}

// ProceduralStore is the C2 contract: record outcomes, query success rate.
type ProceduralStore interface {
	Record(ctx context.Context, skillID, contextKey string, success bool, stepsToSuccess int) error
	SuccessRate(ctx context.Context, skillID, contextKey string) (float64, int, error)
}

func rowKey(skillID, contextKey string) string {
	return fmt.Sprintf("%s::%s", skillID, contextKey)
}

// InMemoryProceduralStore is a process-local ProceduralStore, grounded on
// core.MemoryStore's mutex-guarded map pattern. It never fails, so it is
// primarily used in tests and as the default when no Redis URL is configured.
type InMemoryProceduralStore struct {
	mu     sync.RWMutex
	rows   map[string]*ProceduralRow
	logger core.Logger
}

// NewInMemoryProceduralStore creates an empty store.
func NewInMemoryProceduralStore(logger core.Logger) *InMemoryProceduralStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("core/memory")
	}
	return &InMemoryProceduralStore{rows: make(map[string]*ProceduralRow), logger: logger}
}

// Record increments Uses and either Successes or Failures for (skillID, contextKey).
func (s *InMemoryProceduralStore) Record(ctx context.Context, skillID, contextKey string, success bool, stepsToSuccess int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := rowKey(skillID, contextKey)
	row, ok := s.rows[key]
	if !ok {
		row = &ProceduralRow{SkillID: skillID, ContextKey: contextKey}
		s.rows[key] = row
	}

	row.Uses++
	if success {
		row.Successes++
		n := float64(row.Successes)
		row.AvgStepsWhenSuccessful = ((n-1)*row.AvgStepsWhenSuccessful + float64(stepsToSuccess)) / n
	} else {
		row.Failures++
	}

	s.logger.Debug("procedural memory recorded", map[string]interface{}{
		"skill_id": skillID, "context_key": contextKey, "success": success, "uses": row.Uses,
	})

	return nil
}

// SuccessRate returns Successes/Uses, or (NeutralPrior, 0, nil) when unseen.
func (s *InMemoryProceduralStore) SuccessRate(ctx context.Context, skillID, contextKey string) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.rows[rowKey(skillID, contextKey)]
	if !ok || row.Uses == 0 {
		return NeutralPrior, 0, nil
	}
	return float64(row.Successes) / float64(row.Uses), row.Uses, nil
}

// ContextKey discretises belief into the deterministic token the procedural
// store keys on, per spec §4.2: a confidence bucket plus, in quest mode, the
// active subgoal description so memory is quest-aware.
//
// pUnlocked is a domain-supplied confidence in [0,1] (e.g. the belief that a
// door is unlocked); callers with no natural scalar pass 0.5 for "uncertain".
func ContextKey(pUnlocked float64, activeSubgoal string) string {
	var bucket string
	switch {
	case pUnlocked >= 0.8:
		bucket = "confident_unlocked"
	case pUnlocked <= 0.2:
		bucket = "confident_locked"
	default:
		bucket = "uncertain"
	}
	if activeSubgoal != "" {
		return bucket + "|" + activeSubgoal
	}
	return bucket
}
