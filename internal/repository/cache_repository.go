package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
)

// CacheKeyPrefix namespaces every lookup cache key.
const CacheKeyPrefix = "inbox-console:"

// RedisCacheRepository stores lookup payloads in redis.
type RedisCacheRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCacheRepository constructs a redis-backed cache repository. A nil
// client turns every read into a miss.
func NewRedisCacheRepository(client *redis.Client, logger *zap.Logger) *RedisCacheRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCacheRepository{client: client, logger: logger}
}

// Get retrieves and unmarshals the cached value into dest.
func (r *RedisCacheRepository) Get(ctx context.Context, key string, dest interface{}) error {
	if r.client == nil {
		return appErrors.ErrCacheMiss
	}

	raw, err := r.client.Get(ctx, CacheKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		return fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set marshals value and stores it with ttl.
func (r *RedisCacheRepository) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if r.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	if err := r.client.Set(ctx, CacheKeyPrefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// DeleteByPattern removes entries whose key matches pattern.
func (r *RedisCacheRepository) DeleteByPattern(ctx context.Context, pattern string) error {
	if r.client == nil {
		return nil
	}

	iter := r.client.Scan(ctx, 0, CacheKeyPrefix+pattern, 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if err := r.client.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("redis delete %s: %w", key, err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan pattern %s: %w", pattern, err)
	}
	return nil
}

// Close releases the redis connection.
func (r *RedisCacheRepository) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCacheRepository is the in-process cache used when redis is disabled.
// Values go through JSON so callers observe the same copy semantics as redis.
type MemoryCacheRepository struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCacheRepository constructs an empty in-memory cache.
func NewMemoryCacheRepository() *MemoryCacheRepository {
	return &MemoryCacheRepository{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get loads key into dest or reports a cache miss.
func (r *MemoryCacheRepository) Get(_ context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	entry, ok := r.entries[key]
	if ok && !entry.expiresAt.IsZero() && r.now().After(entry.expiresAt) {
		delete(r.entries, key)
		ok = false
	}
	r.mu.Unlock()
	if !ok {
		return appErrors.ErrCacheMiss
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return nil
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (r *MemoryCacheRepository) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value for %s: %w", key, err)
	}
	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = r.now().Add(ttl)
	}
	r.mu.Lock()
	r.entries[key] = entry
	r.mu.Unlock()
	return nil
}

// DeleteByPattern removes keys matching a glob pattern.
func (r *MemoryCacheRepository) DeleteByPattern(_ context.Context, pattern string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.entries {
		matched, err := path.Match(pattern, key)
		if err != nil {
			return fmt.Errorf("match pattern %s: %w", pattern, err)
		}
		if matched {
			delete(r.entries, key)
		}
	}
	return nil
}
