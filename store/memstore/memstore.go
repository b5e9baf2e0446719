// Package memstore is the in-memory graph-store backend for C2/C3, grounded
// on core.MemoryStore's mutex-guarded map pattern (same locking and metrics
// texture) but shaped as a small property graph rather than a flat cache: the
// node kinds are "agents", "skills", "skill_stats", "episodes", "steps" and
// "memories", linked by "produced", "informs" and "about_skill" edges, per
// SPEC_FULL.md's graph-store section. store/arangostore implements the same
// two interfaces (memory.ProceduralStore, memory.EpisodicStore) against a
// real ArangoDB deployment using the identical node/edge vocabulary, so a
// domain can switch backends without touching agent/core.go.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/internal/tokenset"
	"github.com/mrlecko/hcc/memory"
)

// Node kinds, mirrored 1:1 with the collection names store/arangostore
// creates in ArangoDB.
const (
	KindSkillStats = "skill_stats"
	KindEpisode    = "episodes"
	KindStep       = "steps"
)

// Edge kinds linking episode nodes to their steps and subject skills.
const (
	EdgeProduced   = "produced"   // episode -> step
	EdgeAboutSkill = "about_skill" // step -> skill_stats
)

type skillStatsNode struct {
	row memory.ProceduralRow
}

type stepNode struct {
	episodeID string
	record    memory.StepRecord
}

// Store implements memory.ProceduralStore and memory.EpisodicStore over
// in-process maps, one per node kind, edges modeled as index maps rather
// than a separate edge collection since the only traversal memstore needs
// is "steps belonging to an episode" and "skill_stats for a step".
type Store struct {
	mu sync.RWMutex

	skillStats map[string]*skillStatsNode // key: skillID::contextKey (about_skill target)
	episodes   map[string]*memory.EpisodeRecord
	steps      []stepNode // produced edges, in insertion order

	cfg    memory.RetrievalConfig
	logger core.Logger
	now    func() time.Time
}

// New creates an empty graph store. now defaults to time.Now but may be
// overridden in tests for deterministic recency scoring, same convention as
// memory.NewInMemoryEpisodicStore.
func New(cfg memory.RetrievalConfig, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("store/memstore")
	}
	return &Store{
		skillStats: make(map[string]*skillStatsNode),
		episodes:   make(map[string]*memory.EpisodeRecord),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func skillStatsKey(skillID, contextKey string) string {
	return fmt.Sprintf("%s::%s", skillID, contextKey)
}

// Record upserts the skill_stats node "about_skill" (skillID, contextKey).
func (s *Store) Record(ctx context.Context, skillID, contextKey string, success bool, stepsToSuccess int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := skillStatsKey(skillID, contextKey)
	node, ok := s.skillStats[key]
	if !ok {
		node = &skillStatsNode{row: memory.ProceduralRow{SkillID: skillID, ContextKey: contextKey}}
		s.skillStats[key] = node
	}

	node.row.Uses++
	if success {
		node.row.Successes++
		n := float64(node.row.Successes)
		node.row.AvgStepsWhenSuccessful = ((n-1)*node.row.AvgStepsWhenSuccessful + float64(stepsToSuccess)) / n
	} else {
		node.row.Failures++
	}

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("store.memstore.skill_stats_upserts", "success", fmt.Sprintf("%t", success))
	}
	s.logger.Debug("skill_stats node upserted", map[string]interface{}{
		"skill_id": skillID, "context_key": contextKey, "uses": node.row.Uses,
	})
	return nil
}

// SuccessRate reads the skill_stats node, degrading to the neutral prior on
// a miss as every ProceduralStore backend must.
func (s *Store) SuccessRate(ctx context.Context, skillID, contextKey string) (float64, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.skillStats[skillStatsKey(skillID, contextKey)]
	if !ok || node.row.Uses == 0 {
		return memory.NeutralPrior, 0, nil
	}
	return float64(node.row.Successes) / float64(node.row.Uses), node.row.Uses, nil
}

// StoreEpisode writes the episode node and fans "produced" edges out to one
// step node per step. Re-storing an episode ID replaces its prior steps,
// matching the idempotent-on-retry contract the in-memory episodic store
// documents.
func (s *Store) StoreEpisode(ctx context.Context, episode memory.EpisodeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.episodes[episode.ID] = &episode

	kept := s.steps[:0]
	for _, st := range s.steps {
		if st.episodeID != episode.ID {
			kept = append(kept, st)
		}
	}
	s.steps = kept
	for _, record := range episode.Steps {
		s.steps = append(s.steps, stepNode{episodeID: episode.ID, record: record})
	}

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("store.memstore.episodes_stored")
		registry.Gauge("store.memstore.step_nodes", float64(len(s.steps)))
	}
	return true, nil
}

// Retrieve traverses "produced" edges across every episode node's step
// nodes, scoring each against (room, action, currentSubgoal) with the same
// weighting as spec §4.3's formula.
func (s *Store) Retrieve(ctx context.Context, room, action, currentSubgoal string, topK int) ([]memory.RetrievedMemory, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	type scored struct {
		mem       memory.RetrievedMemory
		score     float64
		recency   float64
		stepIndex int
	}
	var candidates []scored

	for _, st := range s.steps {
		step := st.record
		relevance := 0.0
		if step.Room != "" && step.Room == room {
			relevance += 2.0
		}
		if tokenset.SharesToken(step.Action, action) {
			relevance += 2.0
		}
		if currentSubgoal != "" && step.ActiveSubgoal != "" && tokenset.SharesToken(step.ActiveSubgoal, currentSubgoal) {
			relevance *= 1.5
		}
		if relevance <= 0 {
			continue
		}
		relevanceNorm := relevance / 5.0
		if relevanceNorm > 1 {
			relevanceNorm = 1
		}

		daysSince := now.Sub(step.Timestamp).Hours() / 24
		decayDays := s.cfg.DecayWindow.Hours() / 24
		recency := 1 - daysSince/decayDays
		if recency < 0 {
			recency = 0
		}

		candidates = append(candidates, scored{
			mem: memory.RetrievedMemory{
				Action:     step.Action,
				Outcome:    step.Outcome,
				Confidence: step.Confidence,
				Summary:    step.ObservationDigest,
			},
			score:     0.7*relevanceNorm + 0.3*recency,
			recency:   recency,
			stepIndex: step.StepIndex,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].recency != candidates[j].recency {
			return candidates[i].recency > candidates[j].recency
		}
		return candidates[i].stepIndex < candidates[j].stepIndex
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]memory.RetrievedMemory, len(candidates))
	for i, c := range candidates {
		out[i] = c.mem
	}
	return out, nil
}
