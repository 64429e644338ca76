// Copyright 2025 DocFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"docflow/platform/shared/logger"
)

// CachedResult is what the focused router stores for a successful run.
type CachedResult struct {
	Payload      map[string]interface{} `json:"payload"`
	AgentsUsed   []string               `json:"agents_used"`
	QualityScore float64                `json:"quality_score"`
	StoredAt     time.Time              `json:"stored_at"`
}

type memoryCacheEntry struct {
	result   CachedResult
	expires  time.Time
	inserted time.Time
}

// ResultCache caches successful focused-router results keyed by operation
// category and normalized request text. Redis backs the cache when a URL is
// configured; otherwise a bounded in-memory map stands in. Redis errors fail
// open: a broken cache never fails a request.
type ResultCache struct {
	client *redis.Client // nil means in-memory only

	mu      sync.Mutex
	entries map[string]memoryCacheEntry

	maxEntries int
	ttl        time.Duration
	ttlMu      sync.RWMutex

	logger *logger.Logger
}

// NewResultCache creates a cache. An empty redisURL selects the in-memory
// backend; an unreachable redis falls back to memory with a warning.
func NewResultCache(redisURL string, cfg CacheConfig) *ResultCache {
	cache := &ResultCache{
		entries:    make(map[string]memoryCacheEntry),
		maxEntries: cfg.MaxEntries,
		ttl:        time.Duration(cfg.TTLSeconds) * time.Second,
		logger:     logger.New("result-cache"),
	}

	if redisURL == "" {
		return cache
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		cache.logger.Warn("", "invalid redis URL, using in-memory cache", map[string]interface{}{"error": err.Error()})
		return cache
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		cache.logger.Warn("", "redis unreachable, using in-memory cache", map[string]interface{}{"error": err.Error()})
		_ = client.Close()
		return cache
	}

	cache.client = client
	return cache
}

// Key builds the cache key from the operation category and the normalized
// request text.
func (c *ResultCache) Key(category string, request string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(request)), " ")
	return fmt.Sprintf("docflow:results:%s:%s", category, normalized)
}

// Get returns the cached result for key, if present and unexpired.
func (c *ResultCache) Get(ctx context.Context, key string) (*CachedResult, bool) {
	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return nil, false
		}
		if err != nil {
			// Fail open: treat a redis error as a miss.
			c.logger.Warn("", "redis get failed, treating as miss", map[string]interface{}{"error": err.Error()})
			return nil, false
		}
		var result CachedResult
		if err := json.Unmarshal(data, &result); err != nil {
			return nil, false
		}
		return &result, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	result := entry.result
	return &result, true
}

// Set stores a result under key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, key string, result CachedResult) {
	result.StoredAt = time.Now()
	ttl := c.TTL()

	if c.client != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return
		}
		if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
			c.logger.Warn("", "redis set failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}

	c.entries[key] = memoryCacheEntry{
		result:   result,
		expires:  time.Now().Add(ttl),
		inserted: time.Now(),
	}
}

// evictOldestLocked drops the oldest entry to stay within maxEntries.
func (c *ResultCache) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.inserted.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.inserted
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// TTL returns the current entry lifetime.
func (c *ResultCache) TTL() time.Duration {
	c.ttlMu.RLock()
	defer c.ttlMu.RUnlock()
	return c.ttl
}

// SetTTL adjusts the entry lifetime. The performance monitor raises it when
// caching recommendations are auto-applied.
func (c *ResultCache) SetTTL(ttl time.Duration) {
	c.ttlMu.Lock()
	defer c.ttlMu.Unlock()
	c.ttl = ttl
}

// Len reports the in-memory entry count (zero when redis-backed).
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases the redis connection if one is held.
func (c *ResultCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
