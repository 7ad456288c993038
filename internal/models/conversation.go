package models

import (
	"time"
)

type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationArchived ConversationStatus = "archived"
)

// Conversation is the single channel between one client and the admin staff.
type Conversation struct {
	ID                string             `json:"id" db:"id"`
	ClientID          string             `json:"client_id" db:"client_id"`
	UnreadClientCount int                `json:"unread_client_count" db:"unread_client_count"`
	UnreadAdminCount  int                `json:"unread_admin_count" db:"unread_admin_count"`
	LastMessageAt     time.Time          `json:"last_message_at" db:"last_message_at"`
	Status            ConversationStatus `json:"status" db:"status"`
	CreatedAt         time.Time          `json:"created_at" db:"created_at"`
}

// UnreadFor returns the counter of messages the given party has not viewed yet.
func (c *Conversation) UnreadFor(asAdmin bool) int {
	if asAdmin {
		return c.UnreadAdminCount
	}
	return c.UnreadClientCount
}

func (c *Conversation) IsArchived() bool {
	return c.Status == ConversationArchived
}

// AdminConversation is a worklist row: the conversation plus the client's
// display fields from profiles.
type AdminConversation struct {
	Conversation
	ClientName  string `json:"client_name"`
	ClientEmail string `json:"client_email"`
}

// ClientConversation is what a client sees when opening the chat.
type ClientConversation struct {
	Conversation
	Messages []Message `json:"messages"`
}

// ConversationDetails is what an admin sees when opening a conversation.
type ConversationDetails struct {
	Conversation     AdminConversation `json:"conversation"`
	Messages         []Message         `json:"messages"`
	UnreadAdminCount int               `json:"unread_admin_count"`
}
