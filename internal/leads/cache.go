package leads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var cacheTracer = otel.Tracer("leads/cache")

// CacheEntry records the CRM objects already created for a chat, so a
// second qualification of the same chat never duplicates the lead.
type CacheEntry struct {
	LeadID    int64 `json:"lead_id"`
	ContactID int64 `json:"contact_id"`
	StatusID  int64 `json:"status_id"`
}

// Cache is the Redis-backed dedup index keyed by chat id.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func cacheKey(chatID string) string {
	return "lead_created:" + chatID
}

// Get returns the entry for a chat, or nil when the chat has no lead
// yet.
func (c *Cache) Get(ctx context.Context, chatID string) (*CacheEntry, error) {
	ctx, span := cacheTracer.Start(ctx, "Cache.Get")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))

	raw, err := c.rdb.Get(ctx, cacheKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lead cache get %s: %w", chatID, err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("lead cache decode %s: %w", chatID, err)
	}
	return &entry, nil
}

// Put records the CRM objects for a chat.
func (c *Cache) Put(ctx context.Context, chatID string, entry CacheEntry) error {
	ctx, span := cacheTracer.Start(ctx, "Cache.Put")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))

	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("lead cache encode %s: %w", chatID, err)
	}
	if err := c.rdb.Set(ctx, cacheKey(chatID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("lead cache put %s: %w", chatID, err)
	}
	return nil
}
