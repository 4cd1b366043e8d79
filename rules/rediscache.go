package rules

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/formrules/internal/logger"
)

// RedisRuleSetCache shares cached rule sets between server instances.
// Entries are JSON documents under CacheConfig.KeyPrefix. Redis failures
// are logged and treated as misses so evaluation falls back to the store.
type RedisRuleSetCache struct {
	client *redis.Client
	config CacheConfig
}

// NewRedisRuleSetCache creates a cache on top of an existing client
func NewRedisRuleSetCache(client *redis.Client, config CacheConfig) *RedisRuleSetCache {
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultCacheConfig().KeyPrefix
	}
	return &RedisRuleSetCache{
		client: client,
		config: config,
	}
}

func (c *RedisRuleSetCache) key(id string) string {
	return c.config.KeyPrefix + id
}

// Get retrieves and decodes a cached rule set
func (c *RedisRuleSetCache) Get(ctx context.Context, id string) (*RuleSet, bool) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		logger.Warn("rule set cache read failed", "ruleSetId", id, "error", err)
		return nil, false
	}

	var rs RuleSet
	if err := json.Unmarshal(data, &rs); err != nil {
		logger.Warn("rule set cache entry is corrupt", "ruleSetId", id, "error", err)
		return nil, false
	}
	return &rs, true
}

// Set stores a rule set with the configured TTL
func (c *RedisRuleSetCache) Set(ctx context.Context, rs *RuleSet) {
	data, err := json.Marshal(rs)
	if err != nil {
		logger.Warn("failed to encode rule set for cache", "ruleSetId", rs.ID, "error", err)
		return
	}

	if err := c.client.Set(ctx, c.key(rs.ID), data, c.config.TTL).Err(); err != nil {
		logger.Warn("rule set cache write failed", "ruleSetId", rs.ID, "error", err)
	}
}

// Invalidate deletes a single entry
func (c *RedisRuleSetCache) Invalidate(ctx context.Context, id string) {
	if err := c.client.Del(ctx, c.key(id)).Err(); err != nil {
		logger.Warn("rule set cache delete failed", "ruleSetId", id, "error", err)
	}
}

// InvalidateAll deletes every entry under the key prefix
func (c *RedisRuleSetCache) InvalidateAll(ctx context.Context) {
	var keys []string
	iter := c.client.Scan(ctx, 0, c.config.KeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Warn("rule set cache scan failed", "prefix", c.config.KeyPrefix, "error", err)
		return
	}

	if len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("rule set cache flush failed", "prefix", c.config.KeyPrefix, "error", err)
	}
}
