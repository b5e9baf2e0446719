package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/geometry"
	"github.com/mrlecko/hcc/internal/tokenset"
)

// Outcome classifies a retrieved memory's valence.
type Outcome string

const (
	OutcomePositive Outcome = "positive"
	OutcomeNegative Outcome = "negative"
	OutcomeNeutral  Outcome = "neutral"
)

// RetrievedMemory is one item returned by EpisodicStore.Retrieve.
type RetrievedMemory struct {
	Action     string  `json:"action"`
	Outcome    Outcome `json:"outcome"`
	Confidence float64 `json:"confidence"`
	Summary    string  `json:"summary"`
}

// EfeComponents is the scoring breakdown behind the action chosen for a
// step, mirroring kernel.Result's fields without importing the kernel
// package (kernel already imports memory for RetrievedMemory, and memory
// must stay import-cycle-free of kernel).
type EfeComponents struct {
	GoalValue   float64 `json:"goal_value"`
	InfoGain    float64 `json:"info_gain"`
	Cost        float64 `json:"cost"`
	MemoryBonus float64 `json:"memory_bonus"`
	PlanBonus   float64 `json:"plan_bonus"`
	Efe         float64 `json:"efe"`
}

// StepRecord is the persisted shape of one step, used both for episode
// storage and as the unit episodic retrieval scores against. Reward,
// Outcome and Confidence are unknown at the time the step is committed —
// the environment's reward for an action only arrives with the next
// observation — and are backfilled onto the previous record once known.
type StepRecord struct {
	StepIndex         int            `json:"step_index"`
	Room              string         `json:"room"`
	Action            string         `json:"action"`
	ActiveSubgoal     string         `json:"active_subgoal"`
	Reward            float64        `json:"reward"`
	Outcome           Outcome        `json:"outcome"`
	Confidence        float64        `json:"confidence"`
	ObservationDigest string         `json:"observation_digest"`
	BeliefEntropy     float64        `json:"belief_entropy"`
	EfeComponents     EfeComponents  `json:"efe_components"`
	Geometry          geometry.Shape `json:"geometry"`
	CriticalState     string         `json:"critical_state"`
	Timestamp         time.Time      `json:"timestamp"`
}

// EpisodeRecord is the sealed, persisted record of a completed episode.
type EpisodeRecord struct {
	ID                   string       `json:"id"`
	QuestText            string       `json:"quest_text,omitempty"`
	Subgoals             []string     `json:"subgoals,omitempty"`
	Steps                []StepRecord `json:"steps"`
	TotalReward          float64      `json:"total_reward"`
	Success              bool         `json:"success"`
	CriticalStateHistory []string     `json:"critical_state_history"`
	PlanCount            int          `json:"plan_count"`
}

// EpisodicStore is the C3 contract: persist sealed episodes, retrieve
// relevant past steps for the current context.
type EpisodicStore interface {
	StoreEpisode(ctx context.Context, episode EpisodeRecord) (bool, error)
	Retrieve(ctx context.Context, room, action, currentSubgoal string, topK int) ([]RetrievedMemory, error)
}

// RetrievalConfig tunes the scoring formula in spec §4.3.
type RetrievalConfig struct {
	DecayWindow time.Duration // T_decay, default 14 days
	TopK        int           // default 5
}

// DefaultRetrievalConfig returns the spec §4.3 defaults.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{DecayWindow: 14 * 24 * time.Hour, TopK: 5}
}

// InMemoryEpisodicStore is a process-local EpisodicStore over a flat slice of
// past steps, grounded on the indexed-by-domain/tag scan pattern in the
// unified-thinking episodic memory example — simplified here to a single
// linear scan since the candidate set per query is small.
type InMemoryEpisodicStore struct {
	mu       sync.RWMutex
	episodes []EpisodeRecord
	cfg      RetrievalConfig
	logger   core.Logger
	now      func() time.Time
}

// NewInMemoryEpisodicStore creates an empty store. now defaults to
// time.Now but may be overridden in tests for deterministic recency scoring.
func NewInMemoryEpisodicStore(cfg RetrievalConfig, logger core.Logger) *InMemoryEpisodicStore {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("core/memory")
	}
	return &InMemoryEpisodicStore{cfg: cfg, logger: logger, now: time.Now}
}

// StoreEpisode appends episode. Idempotent on retry: an episode with an ID
// already present is replaced in place rather than duplicated.
func (s *InMemoryEpisodicStore) StoreEpisode(ctx context.Context, episode EpisodeRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.episodes {
		if existing.ID == episode.ID {
			s.episodes[i] = episode
			return true, nil
		}
	}
	s.episodes = append(s.episodes, episode)
	return true, nil
}

type scoredMemory struct {
	memory     RetrievedMemory
	score      float64
	recency    float64
	stepIndex  int
}

// Retrieve scores every past step against (room, action, currentSubgoal) per
// the formula in spec §4.3 and returns the top K by score, ties broken by
// recency then step order.
func (s *InMemoryEpisodicStore) Retrieve(ctx context.Context, room, action, currentSubgoal string, topK int) ([]RetrievedMemory, error) {
	if topK <= 0 {
		topK = s.cfg.TopK
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	var candidates []scoredMemory

	for _, episode := range s.episodes {
		for _, step := range episode.Steps {
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
			relevanceNorm := relevance / 5.0 // max possible raw relevance before the 1.5x bump is 4; normalize generously
			if relevanceNorm > 1 {
				relevanceNorm = 1
			}

			daysSince := now.Sub(step.Timestamp).Hours() / 24
			decayDays := s.cfg.DecayWindow.Hours() / 24
			recency := 1 - daysSince/decayDays
			if recency < 0 {
				recency = 0
			}

			score := 0.7*relevanceNorm + 0.3*recency
			if relevance <= 0 {
				continue
			}

			candidates = append(candidates, scoredMemory{
				memory: RetrievedMemory{
					Action:     step.Action,
					Outcome:    step.Outcome,
					Confidence: step.Confidence,
					Summary:    step.ObservationDigest,
				},
				score:     score,
				recency:   recency,
				stepIndex: step.StepIndex,
			})
		}
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

	out := make([]RetrievedMemory, len(candidates))
	for i, c := range candidates {
		out[i] = c.memory
	}
	return out, nil
}
