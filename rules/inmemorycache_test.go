package rules

import (
	"context"
	"testing"
	"time"
)

var (
	_ RuleSetCache = (*InMemoryRuleSetCache)(nil)
	_ RuleSetCache = (*RedisRuleSetCache)(nil)
)

// TestInMemoryRuleSetCacheGetSet verifies hits, misses and copy semantics
func TestInMemoryRuleSetCacheGetSet(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRuleSetCache(DefaultCacheConfig())

	if _, ok := cache.Get(ctx, "missing"); ok {
		t.Error("Get() on empty cache should miss")
	}

	rs := sampleRuleSet("cached", true)
	cache.Set(ctx, rs)
	rs.Name = "changed after set"

	got, ok := cache.Get(ctx, "cached")
	if !ok {
		t.Fatal("Get() should hit after Set()")
	}
	if got.Name != "Rule set cached" {
		t.Errorf("Name = %q, cached entry should not follow caller changes", got.Name)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
}

// TestInMemoryRuleSetCacheTTL verifies entries expire after the TTL
func TestInMemoryRuleSetCacheTTL(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRuleSetCache(CacheConfig{TTL: 20 * time.Millisecond})

	cache.Set(ctx, sampleRuleSet("short", true))
	if _, ok := cache.Get(ctx, "short"); !ok {
		t.Fatal("Get() should hit before expiry")
	}

	time.Sleep(40 * time.Millisecond)

	if _, ok := cache.Get(ctx, "short"); ok {
		t.Error("Get() should miss after expiry")
	}
	if cache.Len() != 0 {
		t.Errorf("Len() = %d, expired entries should not count", cache.Len())
	}
}

// TestInMemoryRuleSetCacheInvalidate verifies single and full invalidation
func TestInMemoryRuleSetCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := NewInMemoryRuleSetCache(DefaultCacheConfig())

	cache.Set(ctx, sampleRuleSet("a", true))
	cache.Set(ctx, sampleRuleSet("b", true))

	cache.Invalidate(ctx, "a")
	if _, ok := cache.Get(ctx, "a"); ok {
		t.Error("invalidated entry should miss")
	}
	if _, ok := cache.Get(ctx, "b"); !ok {
		t.Error("other entries should survive Invalidate()")
	}

	cache.InvalidateAll(ctx)
	if cache.Len() != 0 {
		t.Errorf("Len() after InvalidateAll() = %d, want 0", cache.Len())
	}
}
