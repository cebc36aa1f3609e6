package redis

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const contextCachePrefix = "retrieval:"

// ContextCache caches summarized, already-masked retrieval excerpts
// keyed by scenario and query hash. A miss is never an error; the
// retriever just recomputes.
type ContextCache struct {
	client *Client
	ttl    time.Duration
}

// NewContextCache creates a context cache with the given TTL
func NewContextCache(client *Client, ttl time.Duration) *ContextCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ContextCache{client: client, ttl: ttl}
}

// Get returns a cached excerpt, if present
func (c *ContextCache) Get(ctx context.Context, key string) (string, bool) {
	val, err := c.client.rdb.Get(ctx, contextCachePrefix+key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores an excerpt; cache failures are logged, never propagated
func (c *ContextCache) Set(ctx context.Context, key, value string) {
	if err := c.client.rdb.Set(ctx, contextCachePrefix+key, value, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to cache retrieval context")
	}
}
