// Package feed delivers row-level change events for messages and
// conversations to subscribers filtered by conversation or table.
//
// Delivery is at-least-once. Within one conversation, message inserts arrive
// in commit order; across conversations there is no ordering guarantee.
package feed

import (
	"context"
	"errors"

	"portal-backend/internal/models"
)

type Table string

const (
	TableMessages      Table = "messages"
	TableConversations Table = "conversations"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
)

// Event carries the full new row of a change.
type Event struct {
	Table        Table                `json:"table"`
	Type         EventType            `json:"type"`
	Message      *models.Message      `json:"message,omitempty"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
}

// MessageInserted builds the event emitted for a new message.
func MessageInserted(m models.Message) Event {
	return Event{Table: TableMessages, Type: Insert, Message: &m}
}

// ConversationChanged builds the event emitted for a conversation row change.
func ConversationChanged(t EventType, c models.Conversation) Event {
	return Event{Table: TableConversations, Type: t, Conversation: &c}
}

// ConversationID returns the conversation the event belongs to.
func (e Event) ConversationID() string {
	switch {
	case e.Message != nil:
		return e.Message.ConversationID
	case e.Conversation != nil:
		return e.Conversation.ID
	default:
		return ""
	}
}

var ErrInvalidFilter = errors.New("feed: filter needs exactly one of conversation id or table")

// Filter selects events server-side. Exactly one field is set.
//
// A ConversationID filter yields message inserts of that conversation and
// updates of its conversation row. A Table filter yields every change of
// that table.
type Filter struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Table          Table  `json:"table,omitempty"`
}

func (f Filter) Validate() error {
	if (f.ConversationID == "") == (f.Table == "") {
		return ErrInvalidFilter
	}
	if f.Table != "" && f.Table != TableMessages && f.Table != TableConversations {
		return ErrInvalidFilter
	}
	return nil
}

func (f Filter) Matches(e Event) bool {
	if f.ConversationID != "" {
		return e.ConversationID() == f.ConversationID
	}
	return e.Table == f.Table
}

// Stream is one live subscription. Events is closed when the subscription
// ends; Err then reports why (nil after Close).
type Stream interface {
	Events() <-chan Event
	Err() error
	Close()
}

// Subscriber opens subscriptions. Implementations: *Hub in process, and the
// websocket client in internal/client.
type Subscriber interface {
	Subscribe(ctx context.Context, filter Filter) (Stream, error)
}

// Publisher accepts events for fan-out.
type Publisher interface {
	Publish(e Event) int
}
