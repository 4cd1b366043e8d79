package rules

import (
	"context"
	"time"
)

// RuleSetCache provides an abstraction for caching rule sets by id
// This allows swapping between in-memory, Redis, or other caching implementations
type RuleSetCache interface {
	// Get retrieves a cached rule set, ok is false on a miss or expiry
	Get(ctx context.Context, id string) (rs *RuleSet, ok bool)

	// Set stores a rule set in cache
	Set(ctx context.Context, rs *RuleSet)

	// Invalidate drops one rule set, forcing a reload on next Get
	Invalidate(ctx context.Context, id string)

	// InvalidateAll clears the cache
	InvalidateAll(ctx context.Context)
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries
	// Set to 0 for no expiration (manual invalidation only)
	TTL time.Duration

	// KeyPrefix namespaces entries in shared caches
	KeyPrefix string
}

// DefaultCacheConfig returns sensible defaults for rule set caching
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:       0, // No TTL - only invalidate on mutations
		KeyPrefix: "formrules:ruleset:",
	}
}
