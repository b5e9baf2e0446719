// Package redisprocedural implements memory.ProceduralStore against Redis,
// grounded on core.RedisClient's namespaced, DB-isolated wrapper. It is the
// fast advisory cache mentioned in SPEC_FULL.md's domain-stack table; a
// backend failure degrades to the neutral prior rather than an error,
// matching the advisory-memory contract in spec §4.2.
package redisprocedural

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mrlecko/hcc/core"
	"github.com/mrlecko/hcc/memory"
)

// Store implements memory.ProceduralStore on top of core.RedisClient.
type Store struct {
	client *core.RedisClient
	logger core.Logger
}

// New wraps an existing RedisClient (expected to be opened against
// core.RedisDBProcedural) as a procedural memory store.
func New(client *core.RedisClient, logger core.Logger) *Store {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("core/memory")
	}
	return &Store{client: client, logger: logger}
}

func key(skillID, contextKey string) string {
	return fmt.Sprintf("procedural:%s:%s", skillID, contextKey)
}

// Record increments Uses/Successes/Failures for (skillID, contextKey). A
// Redis failure is logged and discarded rather than returned, per the
// "writes are discarded with a warning" failure mode in spec §4.2.
func (s *Store) Record(ctx context.Context, skillID, contextKey string, success bool, stepsToSuccess int) error {
	row, _, err := s.get(ctx, skillID, contextKey)
	if err != nil {
		s.logger.WarnWithContext(ctx, "procedural memory record degraded: read failed", map[string]interface{}{
			"skill_id": skillID, "context_key": contextKey, "error": err.Error(),
		})
		return nil
	}

	row.Uses++
	if success {
		row.Successes++
		n := float64(row.Successes)
		row.AvgStepsWhenSuccessful = ((n-1)*row.AvgStepsWhenSuccessful + float64(stepsToSuccess)) / n
	} else {
		row.Failures++
	}

	data, err := json.Marshal(row)
	if err != nil {
		return nil
	}
	if err := s.client.Set(ctx, key(skillID, contextKey), string(data), 0); err != nil {
		s.logger.WarnWithContext(ctx, "procedural memory record degraded: write failed", map[string]interface{}{
			"skill_id": skillID, "context_key": contextKey, "error": err.Error(),
		})
	}
	return nil
}

// SuccessRate returns Successes/Uses, or the neutral prior on a miss or
// backend failure (spec §4.2 failure mode: "queries return the neutral prior").
func (s *Store) SuccessRate(ctx context.Context, skillID, contextKey string) (float64, int, error) {
	row, found, err := s.get(ctx, skillID, contextKey)
	if err != nil || !found || row.Uses == 0 {
		if err != nil {
			s.logger.WarnWithContext(ctx, "procedural memory query degraded to neutral prior", map[string]interface{}{
				"skill_id": skillID, "context_key": contextKey, "error": err.Error(),
			})
		}
		return memory.NeutralPrior, 0, nil
	}
	return float64(row.Successes) / float64(row.Uses), row.Uses, nil
}

func (s *Store) get(ctx context.Context, skillID, contextKey string) (*memory.ProceduralRow, bool, error) {
	raw, err := s.client.Get(ctx, key(skillID, contextKey))
	if err != nil {
		// go-redis returns redis.Nil for a missing key; treat any error
		// uniformly here and let callers decide between "miss" and "failure"
		// via the found flag combined with a nil error.
		if raw == "" {
			return &memory.ProceduralRow{SkillID: skillID, ContextKey: contextKey}, false, nil
		}
		return nil, false, err
	}
	if raw == "" {
		return &memory.ProceduralRow{SkillID: skillID, ContextKey: contextKey}, false, nil
	}

	var row memory.ProceduralRow
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, false, err
	}
	return &row, true, nil
}
