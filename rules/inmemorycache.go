package rules

import (
	"context"
	"sync"
	"time"
)

type cacheEntry struct {
	ruleSet  *RuleSet
	cachedAt time.Time
}

// InMemoryRuleSetCache is a simple in-memory implementation of RuleSetCache
// Thread-safe for concurrent access
type InMemoryRuleSetCache struct {
	entries map[string]cacheEntry
	config  CacheConfig
	mu      sync.RWMutex
}

// NewInMemoryRuleSetCache creates a new in-memory rule set cache
func NewInMemoryRuleSetCache(config CacheConfig) *InMemoryRuleSetCache {
	return &InMemoryRuleSetCache{
		entries: make(map[string]cacheEntry),
		config:  config,
	}
}

// Get retrieves a cached rule set
// Returns ok=false if absent or expired
func (c *InMemoryRuleSetCache) Get(_ context.Context, id string) (*RuleSet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}

	if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
		return nil, false
	}

	// Return copy to prevent external modifications
	return entry.ruleSet.clone(), true
}

// Set stores a rule set in cache
func (c *InMemoryRuleSetCache) Set(_ context.Context, rs *RuleSet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[rs.ID] = cacheEntry{
		ruleSet:  rs.clone(),
		cachedAt: time.Now(),
	}
}

// Invalidate drops a single rule set
func (c *InMemoryRuleSetCache) Invalidate(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, id)
}

// InvalidateAll clears the cache
func (c *InMemoryRuleSetCache) InvalidateAll(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cacheEntry)
}

// Len returns the number of live entries
func (c *InMemoryRuleSetCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, entry := range c.entries {
		if c.config.TTL > 0 && time.Since(entry.cachedAt) > c.config.TTL {
			continue
		}
		n++
	}
	return n
}
