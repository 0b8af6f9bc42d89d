package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

var storeTracer = otel.Tracer("conversation/store")

// ContextStore persists chat contexts in Redis with a sliding TTL.
type ContextStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewContextStore returns a store that keeps contexts alive for ttl
// after the last write.
func NewContextStore(rdb *redis.Client, ttl time.Duration, logger *logging.Logger) *ContextStore {
	return &ContextStore{rdb: rdb, ttl: ttl, logger: logger}
}

func contextKey(chatID string) string {
	return "conversation:" + chatID
}

// Load fetches the context for a chat, returning a fresh start-state
// context when none is stored or the stored blob cannot be decoded.
func (s *ContextStore) Load(ctx context.Context, chatID string) (*Context, error) {
	ctx, span := storeTracer.Start(ctx, "ContextStore.Load")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", chatID))

	raw, err := s.rdb.Get(ctx, contextKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return NewContext(chatID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", chatID, err)
	}
	var c Context
	if err := json.Unmarshal(raw, &c); err != nil {
		s.logger.Error("corrupt conversation context, starting over",
			"chat_id", chatID, "error", err)
		return NewContext(chatID), nil
	}
	if !c.State.Valid() {
		s.logger.Error("unknown conversation state, starting over",
			"chat_id", chatID, "state", string(c.State))
		return NewContext(chatID), nil
	}
	return &c, nil
}

// Save writes the context back and resets its TTL.
func (s *ContextStore) Save(ctx context.Context, c *Context) error {
	ctx, span := storeTracer.Start(ctx, "ContextStore.Save")
	defer span.End()
	span.SetAttributes(attribute.String("chat.id", c.ChatID))

	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation %s: %w", c.ChatID, err)
	}
	if err := s.rdb.Set(ctx, contextKey(c.ChatID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ChatID, err)
	}
	return nil
}
