package models

import (
	"time"
)

// Message is one immutable entry in a conversation. Messages are ordered by
// created_at, which the store assigns while holding the conversation row lock.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Content        string    `json:"content" db:"content"`
	IsAdmin        bool      `json:"is_admin" db:"is_admin"`
	SenderID       string    `json:"sender_id" db:"sender_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

type MarkAsReadRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
}

type SendMessageResponse struct {
	ConversationID string `json:"conversation_id"`
}
