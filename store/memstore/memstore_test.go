package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlecko/hcc/memory"
)

func TestSuccessRateReturnsNeutralPriorOnMiss(t *testing.T) {
	s := New(memory.DefaultRetrievalConfig(), nil)
	rate, uses, err := s.SuccessRate(context.Background(), "take key", "uncertain")
	require.NoError(t, err)
	assert.Equal(t, memory.NeutralPrior, rate)
	assert.Zero(t, uses)
}

func TestRecordAccumulatesSkillStatsNode(t *testing.T) {
	s := New(memory.DefaultRetrievalConfig(), nil)
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, "unlock door", "confident_unlocked", true, 3))
	require.NoError(t, s.Record(ctx, "unlock door", "confident_unlocked", false, 0))

	rate, uses, err := s.SuccessRate(ctx, "unlock door", "confident_unlocked")
	require.NoError(t, err)
	assert.Equal(t, 2, uses)
	assert.Equal(t, 0.5, rate)
}

func TestStoreEpisodeReplacesStepsOnReStore(t *testing.T) {
	s := New(memory.DefaultRetrievalConfig(), nil)
	s.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	episode := memory.EpisodeRecord{
		ID: "ep-1",
		Steps: []memory.StepRecord{
			{StepIndex: 0, Room: "kitchen", Action: "open door", Timestamp: s.now()},
		},
	}
	_, err := s.StoreEpisode(ctx, episode)
	require.NoError(t, err)
	assert.Len(t, s.steps, 1)

	episode.Steps = []memory.StepRecord{
		{StepIndex: 0, Room: "kitchen", Action: "open door", Timestamp: s.now()},
		{StepIndex: 1, Room: "hallway", Action: "go north", Timestamp: s.now()},
	}
	_, err = s.StoreEpisode(ctx, episode)
	require.NoError(t, err)
	assert.Len(t, s.steps, 2)
}

func TestRetrieveScoresByRoomAndActionOverlap(t *testing.T) {
	s := New(memory.DefaultRetrievalConfig(), nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.StoreEpisode(ctx, memory.EpisodeRecord{
		ID: "ep-1",
		Steps: []memory.StepRecord{
			{StepIndex: 0, Room: "kitchen", Action: "open door", Outcome: memory.OutcomePositive, Timestamp: now},
			{StepIndex: 1, Room: "hallway", Action: "wait", Outcome: memory.OutcomeNeutral, Timestamp: now},
		},
	})
	require.NoError(t, err)

	results, err := s.Retrieve(ctx, "kitchen", "open door", "", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "open door", results[0].Action)
	assert.Equal(t, memory.OutcomePositive, results[0].Outcome)
}
