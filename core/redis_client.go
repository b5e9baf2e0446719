// Package core provides Redis client abstractions used as the fast advisory
// cache in front of the graph store.
//
// Purpose:
// - Unified Redis access for the procedural/episodic memory packages
// - Database isolation so different memory kinds don't collide on keys
// - Key namespacing to prevent collisions within a DB
// - Simplified API for the operations memory actually needs
//
// Database Allocation:
//   - DB 0: Procedural memory (skill success-rate records)
//   - DB 1: Episodic memory (trajectory cache)
//   - DB 2: Circuit breaker / monitor state
//   - DB 3-15: Available for extensions
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient provides a simplified Redis interface with DB isolation.
type RedisClient struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisClientOptions configures the Redis client.
type RedisClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    Logger
}

// NewRedisClient creates a new Redis client with specified options.
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	if opts.Logger != nil {
		opts.Logger.Debug("initializing redis client", map[string]interface{}{
			"redis_url": opts.RedisURL,
			"db":        opts.DB,
			"namespace": opts.Namespace,
		})
	}

	if opts.RedisURL == "" {
		if opts.Logger != nil {
			opts.Logger.Error("failed to initialize redis client", map[string]interface{}{
				"error": "redis URL is required",
			})
		}
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		if opts.Logger != nil {
			opts.Logger.Error("failed to parse redis URL", map[string]interface{}{
				"error":     err.Error(),
				"redis_url": opts.RedisURL,
			})
		}
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}

	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if opts.Logger != nil {
			opts.Logger.Error("failed to connect to redis", map[string]interface{}{
				"error": err.Error(),
				"db":    opts.DB,
			})
		}
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, ErrConnectionFailed)
	}

	rc := &RedisClient{
		client:    client,
		dbID:      opts.DB,
		namespace: opts.Namespace,
		logger:    opts.Logger,
	}

	if rc.logger != nil {
		rc.logger.Info("redis client connected", map[string]interface{}{
			"db":        opts.DB,
			"db_name":   GetRedisDBName(opts.DB),
			"namespace": opts.Namespace,
		})
	}

	return rc, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	err := r.client.Close()
	if err != nil && r.logger != nil {
		r.logger.Error("failed to close redis client", map[string]interface{}{"error": err.Error()})
	}
	return err
}

// GetDB returns the DB number being used.
func (r *RedisClient) GetDB() int { return r.dbID }

// GetNamespace returns the namespace being used.
func (r *RedisClient) GetNamespace() string { return r.namespace }

func (r *RedisClient) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, r.formatKey(key)).Result()
}

// Set stores a value with optional TTL.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// Del deletes keys.
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	return r.client.Del(ctx, formatted...).Err()
}

// Exists reports whether a key is present.
func (r *RedisClient) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.formatKey(key)).Result()
	return n > 0, err
}

// TTL gets the TTL of a key.
func (r *RedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.client.TTL(ctx, r.formatKey(key)).Result()
}

// ZAdd adds members to a sorted set, used by episodic memory to keep a
// recency-ordered index of trajectory keys per domain.
func (r *RedisClient) ZAdd(ctx context.Context, key string, members ...*redis.Z) error {
	return r.client.ZAdd(ctx, r.formatKey(key), members...).Err()
}

// ZRevRangeByScore returns members ordered by descending score, used to pull
// the most recent episodes for a domain bucket.
func (r *RedisClient) ZRevRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) ([]string, error) {
	return r.client.ZRevRangeByScore(ctx, r.formatKey(key), opt).Result()
}

// HealthCheck verifies Redis connectivity.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// --- Standard Redis DB allocation ---

const (
	// RedisDBProcedural stores skill success-rate records (§4.2).
	RedisDBProcedural = 0

	// RedisDBEpisodic stores the trajectory/episode cache (§4.3).
	RedisDBEpisodic = 1

	// RedisDBMonitorState stores critical-state monitor history (§4.6).
	RedisDBMonitorState = 2

	RedisDBReservedStart = 3
	RedisDBReservedEnd   = 15
)

// IsReservedDB returns true if the DB number is reserved for future use.
func IsReservedDB(db int) bool {
	return db >= RedisDBReservedStart && db <= RedisDBReservedEnd
}

// GetRedisDBName returns a human-readable name for the Redis DB.
func GetRedisDBName(db int) string {
	switch db {
	case RedisDBProcedural:
		return "Procedural Memory"
	case RedisDBEpisodic:
		return "Episodic Memory"
	case RedisDBMonitorState:
		return "Monitor State"
	default:
		if IsReservedDB(db) {
			return fmt.Sprintf("Reserved DB %d", db)
		}
		return fmt.Sprintf("DB %d", db)
	}
}
