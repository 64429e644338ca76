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
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResultCacheKeyNormalization(t *testing.T) {
	cache := NewResultCache("", CacheConfig{MaxEntries: 8, TTLSeconds: 60})
	defer cache.Close()

	a := cache.Key("content-generation", "Write a Summary   of the report")
	b := cache.Key("content-generation", "write a summary of the report")

	assert.Equal(t, a, b)
	assert.Contains(t, a, "docflow:results:content-generation:")
}

func TestResultCacheMemoryRoundTrip(t *testing.T) {
	cache := NewResultCache("", CacheConfig{MaxEntries: 8, TTLSeconds: 60})
	defer cache.Close()
	ctx := context.Background()

	key := cache.Key("content-generation", "write a summary")
	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)

	cache.Set(ctx, key, CachedResult{
		Payload:      map[string]interface{}{"content": "summary text"},
		AgentsUsed:   []string{ExecContentGenerator},
		QualityScore: 0.9,
	})

	cached, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, "summary text", cached.Payload["content"])
	assert.Equal(t, []string{ExecContentGenerator}, cached.AgentsUsed)
}

func TestResultCacheMemoryExpiry(t *testing.T) {
	cache := NewResultCache("", CacheConfig{MaxEntries: 8, TTLSeconds: 60})
	defer cache.Close()
	ctx := context.Background()

	cache.SetTTL(10 * time.Millisecond)
	key := cache.Key("formatting", "style the headings")
	cache.Set(ctx, key, CachedResult{Payload: map[string]interface{}{"x": 1}})

	time.Sleep(25 * time.Millisecond)

	_, ok := cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestResultCacheMemoryEviction(t *testing.T) {
	cache := NewResultCache("", CacheConfig{MaxEntries: 3, TTLSeconds: 60})
	defer cache.Close()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cache.Set(ctx, cache.Key("formatting", fmt.Sprintf("request %d", i)), CachedResult{})
	}

	assert.Equal(t, 3, cache.Len())
}

func TestResultCacheRedisBackend(t *testing.T) {
	srv := miniredis.RunT(t)
	cache := NewResultCache("redis://"+srv.Addr(), CacheConfig{MaxEntries: 8, TTLSeconds: 60})
	defer cache.Close()
	ctx := context.Background()

	key := cache.Key("document-analysis", "analyze the structure")
	cache.Set(ctx, key, CachedResult{
		Payload:      map[string]interface{}{"sections": float64(4)},
		QualityScore: 0.88,
	})

	cached, ok := cache.Get(ctx, key)
	require.True(t, ok)
	assert.InDelta(t, 0.88, cached.QualityScore, 0.001)

	srv.FastForward(2 * time.Minute)
	_, ok = cache.Get(ctx, key)
	assert.False(t, ok)
}

func TestResultCacheUnreachableRedisFallsBackToMemory(t *testing.T) {
	cache := NewResultCache("redis://127.0.0.1:1", CacheConfig{MaxEntries: 4, TTLSeconds: 60})
	defer cache.Close()
	ctx := context.Background()

	key := cache.Key("formatting", "style it")
	cache.Set(ctx, key, CachedResult{Payload: map[string]interface{}{"ok": true}})

	_, ok := cache.Get(ctx, key)
	assert.True(t, ok)
	assert.Equal(t, 1, cache.Len())
}
