package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryProceduralStoreNeutralPriorOnMiss(t *testing.T) {
	store := NewInMemoryProceduralStore(nil)
	rate, uses, err := store.SuccessRate(context.Background(), "peek_door", "uncertain")
	require.NoError(t, err)
	assert.Equal(t, NeutralPrior, rate)
	assert.Equal(t, 0, uses)
}

func TestInMemoryProceduralStoreRecordUpdatesRate(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryProceduralStore(nil)

	require.NoError(t, store.Record(ctx, "try_door", "confident_unlocked", true, 2))
	require.NoError(t, store.Record(ctx, "try_door", "confident_unlocked", false, 0))
	require.NoError(t, store.Record(ctx, "try_door", "confident_unlocked", true, 3))

	rate, uses, err := store.SuccessRate(ctx, "try_door", "confident_unlocked")
	require.NoError(t, err)
	assert.Equal(t, 3, uses)
	assert.InDelta(t, 2.0/3.0, rate, 1e-9)
}

// TestInMemoryProceduralStoreUsesEqualsSuccessesPlusFailures is invariant I5.
func TestInMemoryProceduralStoreUsesEqualsSuccessesPlusFailures(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryProceduralStore(nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, "s", "c", i%2 == 0, 1))
	}

	store.mu.RLock()
	row := store.rows[rowKey("s", "c")]
	store.mu.RUnlock()

	assert.Equal(t, row.Uses, row.Successes+row.Failures)
}

func TestContextKeyBucketsAndCarriesSubgoal(t *testing.T) {
	assert.Equal(t, "confident_unlocked", ContextKey(0.9, ""))
	assert.Equal(t, "confident_locked", ContextKey(0.05, ""))
	assert.Equal(t, "uncertain", ContextKey(0.5, ""))
	assert.Equal(t, "uncertain|open the door", ContextKey(0.5, "open the door"))
}
