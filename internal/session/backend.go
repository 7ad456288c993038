package session

import (
	"context"

	"portal-backend/internal/chat"
	"portal-backend/internal/models"
)

// ClientBackend is what a client surface needs: its own conversation plus
// the thread operations.
type ClientBackend interface {
	Backend
	// Mine returns the caller's conversation, or nil before first contact.
	Mine(ctx context.Context) (*models.ClientConversation, error)
}

// AdminBackend is what the admin inbox needs.
type AdminBackend interface {
	ListBackend
	Details(ctx context.Context, conversationID string) (*models.ConversationDetails, error)
	// Thread returns the thread operations for one conversation.
	Thread() Backend
}

// ClientService runs a client surface in process against a chat.Service.
type ClientService struct {
	Service  *chat.Service
	ClientID string
}

func (b ClientService) Send(ctx context.Context, _ string, content string) (string, error) {
	return b.Service.SendMessage(ctx, b.ClientID, content)
}

func (b ClientService) Acknowledge(ctx context.Context, conversationID string) error {
	return b.Service.MarkAsRead(ctx, b.ClientID, conversationID)
}

func (b ClientService) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	conv, err := b.Service.GetMyConversation(ctx, b.ClientID)
	if err != nil {
		return nil, err
	}
	if conv == nil || conv.ID != conversationID {
		return nil, chat.ErrForbidden
	}
	return conv.Messages, nil
}

func (b ClientService) Mine(ctx context.Context) (*models.ClientConversation, error) {
	return b.Service.GetMyConversation(ctx, b.ClientID)
}

// AdminService runs the admin inbox in process against a chat.Service.
type AdminService struct {
	Service *chat.Service
	AdminID string
}

func (b AdminService) Send(ctx context.Context, conversationID, content string) (string, error) {
	if err := b.Service.SendAdminMessage(ctx, b.AdminID, conversationID, content); err != nil {
		return "", err
	}
	return conversationID, nil
}

func (b AdminService) Acknowledge(ctx context.Context, conversationID string) error {
	return b.Service.MarkAdminMessagesAsRead(ctx, conversationID)
}

func (b AdminService) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	return b.Service.History(ctx, conversationID)
}

func (b AdminService) Conversations(ctx context.Context, search string) ([]models.AdminConversation, error) {
	return b.Service.GetAdminConversations(ctx, search)
}

func (b AdminService) Details(ctx context.Context, conversationID string) (*models.ConversationDetails, error) {
	return b.Service.GetAdminConversationDetails(ctx, conversationID)
}

func (b AdminService) Thread() Backend { return b }
