package chat

import (
	"context"

	"portal-backend/internal/models"
)

// Order selects the direction of a message listing.
type Order int

const (
	Ascending Order = iota
	Descending
)

// AppendInput describes one message insert.
type AppendInput struct {
	ConversationID string
	AuthorIsAdmin  bool
	SenderID       string
	Content        string
}

// MessageStore is the append-only, conversation-partitioned message log.
//
// Append must increment the opposite party's unread counter and advance
// last_message_at in the same atomic step as the insert. It returns
// ErrValidation for empty content and ErrNotFound for an unknown conversation.
type MessageStore interface {
	Append(ctx context.Context, in AppendInput) (*models.Message, error)
	ListByConversation(ctx context.Context, conversationID string, limit int, order Order) ([]models.Message, error)
}

// ConversationRegistry keeps one conversation per client.
//
// GetOrCreateForClient must be safe under concurrent calls for the same
// client: at most one conversation per client may ever exist.
// AcknowledgeRead is idempotent.
type ConversationRegistry interface {
	GetOrCreateForClient(ctx context.Context, clientID string) (*models.Conversation, error)
	GetByID(ctx context.Context, conversationID string) (*models.Conversation, error)
	FindForClient(ctx context.Context, clientID string) (*models.Conversation, error)
	ListForAdmin(ctx context.Context, search string) ([]models.AdminConversation, error)
	GetForAdmin(ctx context.Context, conversationID string) (*models.AdminConversation, error)
	AcknowledgeRead(ctx context.Context, conversationID string, asAdmin bool) error
	SetStatus(ctx context.Context, conversationID string, status models.ConversationStatus) (*models.Conversation, error)
}

// Directory resolves client profiles for notifications.
type Directory interface {
	GetProfile(ctx context.Context, userID string) (*models.Profile, error)
}

// Store is everything the chat service needs from persistence.
type Store interface {
	MessageStore
	ConversationRegistry
}

// ConversationCache remembers the immutable client -> conversation mapping.
type ConversationCache interface {
	ConversationID(ctx context.Context, clientID string) (string, bool)
	RememberConversationID(ctx context.Context, clientID, conversationID string)
}

// ReminderScheduler schedules a follow-up for an admin message the client
// has not read yet.
type ReminderScheduler interface {
	ScheduleUnreadReminder(ctx context.Context, conversationID string) error
}
