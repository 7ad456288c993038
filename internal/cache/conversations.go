package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"portal-backend/internal/chat"
)

const conversationKeyPrefix = "chat:conversation:client:"

// ConversationIndex caches the client to conversation mapping. The mapping
// never changes once created, so entries only expire to bound memory.
type ConversationIndex struct {
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

var _ chat.ConversationCache = (*ConversationIndex)(nil)

func NewConversationIndex(c Cache, ttl time.Duration, logger *slog.Logger) *ConversationIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConversationIndex{cache: c, ttl: ttl, logger: logger}
}

// ConversationID reports a cached id. Cache failures count as misses.
func (i *ConversationIndex) ConversationID(ctx context.Context, clientID string) (string, bool) {
	id, err := i.cache.Get(ctx, conversationKeyPrefix+clientID)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			i.logger.Warn("conversation cache read failed", "client_id", clientID, "error", err)
		}
		return "", false
	}
	return id, id != ""
}

func (i *ConversationIndex) RememberConversationID(ctx context.Context, clientID, conversationID string) {
	if err := i.cache.Set(ctx, conversationKeyPrefix+clientID, conversationID, i.ttl); err != nil {
		i.logger.Warn("conversation cache write failed", "client_id", clientID, "error", err)
	}
}
