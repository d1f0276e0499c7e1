package agents

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "analyst:custom_agents:"

// customCache memoizes per-user custom agent lists for a TTL. It prefers
// redis when a client is provided so replicas share one cache; otherwise it
// degrades to an in-process map.
type customCache struct {
	ttl    time.Duration
	rdb    *redis.Client
	logger *log.Logger

	mu    sync.Mutex
	local map[string]localEntry
}

type localEntry struct {
	agents    []CustomAgent
	expiresAt time.Time
}

func newCustomCache(rdb *redis.Client, ttl time.Duration, logger *log.Logger) *customCache {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &customCache{
		ttl:    ttl,
		rdb:    rdb,
		logger: logger,
		local:  make(map[string]localEntry),
	}
}

func (c *customCache) get(ctx context.Context, userID string) ([]CustomAgent, bool) {
	if c.rdb != nil {
		raw, err := c.rdb.Get(ctx, cacheKeyPrefix+userID).Bytes()
		if err == nil {
			var agents []CustomAgent
			if err := json.Unmarshal(raw, &agents); err == nil {
				return agents, true
			}
		} else if err != redis.Nil && c.logger != nil {
			c.logger.Printf("warn: custom agent cache read: %v", err)
		}
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.local[userID]
	if !ok || time.Now().After(entry.expiresAt) {
		delete(c.local, userID)
		return nil, false
	}
	return append([]CustomAgent(nil), entry.agents...), true
}

func (c *customCache) put(ctx context.Context, userID string, agents []CustomAgent) {
	if c.rdb != nil {
		raw, err := json.Marshal(agents)
		if err != nil {
			return
		}
		if err := c.rdb.Set(ctx, cacheKeyPrefix+userID, raw, c.ttl).Err(); err != nil && c.logger != nil {
			c.logger.Printf("warn: custom agent cache write: %v", err)
		}
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local[userID] = localEntry{
		agents:    append([]CustomAgent(nil), agents...),
		expiresAt: time.Now().Add(c.ttl),
	}
}

func (c *customCache) invalidate(ctx context.Context, userID string) {
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, cacheKeyPrefix+userID).Err(); err != nil && c.logger != nil {
			c.logger.Printf("warn: custom agent cache invalidate: %v", err)
		}
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.local, userID)
}
