package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRedisDBName(t *testing.T) {
	assert.Equal(t, "Procedural Memory", GetRedisDBName(RedisDBProcedural))
	assert.Equal(t, "Episodic Memory", GetRedisDBName(RedisDBEpisodic))
	assert.Equal(t, "Monitor State", GetRedisDBName(RedisDBMonitorState))
	assert.Contains(t, GetRedisDBName(9), "Reserved")
}

func TestIsReservedDB(t *testing.T) {
	assert.False(t, IsReservedDB(RedisDBProcedural))
	assert.False(t, IsReservedDB(RedisDBEpisodic))
	assert.True(t, IsReservedDB(5))
}

func TestNewRedisClientRejectsEmptyURL(t *testing.T) {
	_, err := NewRedisClient(RedisClientOptions{})
	assert.Error(t, err)
}

func TestNewRedisClientRejectsInvalidURL(t *testing.T) {
	_, err := NewRedisClient(RedisClientOptions{RedisURL: "not-a-url"})
	assert.Error(t, err)
}

// TestRedisClientFormatKey exercises a live connection when HCC_TEST_REDIS_URL
// is set; skipped otherwise since no Redis is guaranteed in CI.
func TestRedisClientFormatKey(t *testing.T) {
	url := os.Getenv("HCC_TEST_REDIS_URL")
	if url == "" {
		t.Skip("HCC_TEST_REDIS_URL not set, skipping live Redis test")
	}

	client, err := NewRedisClient(RedisClientOptions{RedisURL: url, DB: RedisDBProcedural, Namespace: "hcc:test"})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "hcc:test:foo", client.formatKey("foo"))
}
