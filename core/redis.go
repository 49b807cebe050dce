package core

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache is the hot-path cache for scored events and incident snapshots.
// It is a cache layer only: the durable store remains the source of truth
// and a cache miss always falls through to it.
type RedisCache struct {
	client *redis.Client
	logger *zap.SugaredLogger
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(addr, password string, db, poolSize int, logger *zap.SugaredLogger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})
	return &RedisCache{client: client, logger: logger}
}

// Ping tests the Redis connection
func (rc *RedisCache) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

// maxCacheValueSize rejects oversized values rather than letting one huge
// attribute map crowd out the cache (10MB).
const maxCacheValueSize = 10 * 1024 * 1024

// Set stores a value in the cache with expiration
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		rc.logger.Errorf("Failed to marshal cache value for key %s: %v", key, err)
		return err
	}
	if len(data) > maxCacheValueSize {
		return fmt.Errorf("cache value size %d bytes exceeds maximum %d bytes", len(data), maxCacheValueSize)
	}
	return rc.client.Set(ctx, key, data, expiration).Err()
}

// Get retrieves a value from the cache. Returns false on a miss.
func (rc *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := rc.client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		rc.logger.Errorf("Failed to get cache value for key %s: %v", key, err)
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		rc.logger.Errorf("Failed to unmarshal cache value for key %s: %v", key, err)
		return false, err
	}
	return true, nil
}

// Delete removes a key from the cache
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	return rc.client.Del(ctx, key).Err()
}

// CacheEvent stores a scored event under its ID
func (rc *RedisCache) CacheEvent(ctx context.Context, event *SecurityEvent, ttl time.Duration) error {
	return rc.Set(ctx, "event:"+event.ID, event, ttl)
}

// GetEvent retrieves a cached event by ID. Returns nil, false on a miss.
func (rc *RedisCache) GetEvent(ctx context.Context, id string) (*SecurityEvent, bool) {
	var event SecurityEvent
	found, err := rc.Get(ctx, "event:"+id, &event)
	if err != nil || !found {
		return nil, false
	}
	return &event, true
}

// CacheIncident stores an incident snapshot under its ID
func (rc *RedisCache) CacheIncident(ctx context.Context, incident *Incident, ttl time.Duration) error {
	return rc.Set(ctx, "incident:"+incident.ID, incident, ttl)
}

// GetIncident retrieves a cached incident snapshot. Returns nil, false on a miss.
func (rc *RedisCache) GetIncident(ctx context.Context, id string) (*Incident, bool) {
	var incident Incident
	found, err := rc.Get(ctx, "incident:"+id, &incident)
	if err != nil || !found {
		return nil, false
	}
	return &incident, true
}
