// Package chat implements the client/admin conversation operations on top of
// the message store and conversation registry ports.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"portal-backend/internal/models"
)

// DefaultHistoryLimit is how many recent messages a thread opens with.
const DefaultHistoryLimit = 100

// Service exposes the server actions behind the client widget, the client
// chat page and the admin inbox.
type Service struct {
	store        Store
	cache        ConversationCache
	reminders    ReminderScheduler
	logger       *slog.Logger
	historyLimit int
}

type Option func(*Service)

func WithCache(c ConversationCache) Option {
	return func(s *Service) { s.cache = c }
}

func WithReminders(r ReminderScheduler) Option {
	return func(s *Service) { s.reminders = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithHistoryLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:        store,
		logger:       slog.Default(),
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetMyConversation returns the caller's conversation with its most recent
// messages in chronological order, or nil if the client never wrote.
func (s *Service) GetMyConversation(ctx context.Context, clientID string) (*models.ClientConversation, error) {
	conv, err := s.store.FindForClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, s.fail("find conversation", err, "client_id", clientID)
	}

	msgs, err := s.recentMessages(ctx, conv.ID)
	if err != nil {
		return nil, s.fail("list messages", err, "conversation_id", conv.ID)
	}
	return &models.ClientConversation{Conversation: *conv, Messages: msgs}, nil
}

// SendMessage appends a client message, creating the conversation on first
// contact. Content is validated before anything is written.
func (s *Service) SendMessage(ctx context.Context, clientID, content string) (string, error) {
	content, err := NormalizeContent(content)
	if err != nil {
		return "", err
	}

	conversationID, err := s.conversationFor(ctx, clientID)
	if err != nil {
		return "", s.fail("get or create conversation", err, "client_id", clientID)
	}

	msg, err := s.store.Append(ctx, AppendInput{
		ConversationID: conversationID,
		AuthorIsAdmin:  false,
		SenderID:       clientID,
		Content:        content,
	})
	if err != nil {
		return "", s.fail("append message", err, "conversation_id", conversationID)
	}

	s.logger.Debug("client message appended", "conversation_id", conversationID, "message_id", msg.ID)
	return conversationID, nil
}

// MarkAsRead clears the client's unread counter.
func (s *Service) MarkAsRead(ctx context.Context, clientID, conversationID string) error {
	conv, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return s.fail("get conversation", err, "conversation_id", conversationID)
	}
	if conv.ClientID != clientID {
		return ErrForbidden
	}
	if err := s.store.AcknowledgeRead(ctx, conversationID, false); err != nil {
		return s.fail("acknowledge read", err, "conversation_id", conversationID)
	}
	return nil
}

// AuthorizeClientConversation checks that conversationID belongs to
// clientID without reading any messages.
func (s *Service) AuthorizeClientConversation(ctx context.Context, clientID, conversationID string) error {
	if s.cache != nil {
		if id, ok := s.cache.ConversationID(ctx, clientID); ok {
			if id != conversationID {
				return ErrForbidden
			}
			return nil
		}
	}
	conv, err := s.store.FindForClient(ctx, clientID)
	if errors.Is(err, ErrNotFound) {
		return ErrForbidden
	}
	if err != nil {
		return s.fail("find conversation", err, "client_id", clientID)
	}
	if conv.ID != conversationID {
		return ErrForbidden
	}
	if s.cache != nil {
		s.cache.RememberConversationID(ctx, clientID, conv.ID)
	}
	return nil
}

// GetAdminConversations returns the admin worklist, most recent first.
func (s *Service) GetAdminConversations(ctx context.Context, search string) ([]models.AdminConversation, error) {
	convs, err := s.store.ListForAdmin(ctx, search)
	if err != nil {
		return nil, s.fail("list conversations", err)
	}
	if convs == nil {
		convs = []models.AdminConversation{}
	}
	return convs, nil
}

// GetAdminConversationDetails returns one conversation's recent messages and
// its admin unread counter. It does not acknowledge anything.
func (s *Service) GetAdminConversationDetails(ctx context.Context, conversationID string) (*models.ConversationDetails, error) {
	conv, err := s.store.GetForAdmin(ctx, conversationID)
	if err != nil {
		return nil, s.fail("get conversation", err, "conversation_id", conversationID)
	}
	msgs, err := s.recentMessages(ctx, conversationID)
	if err != nil {
		return nil, s.fail("list messages", err, "conversation_id", conversationID)
	}
	return &models.ConversationDetails{
		Conversation:     *conv,
		Messages:         msgs,
		UnreadAdminCount: conv.UnreadAdminCount,
	}, nil
}

// SendAdminMessage appends a staff message to an existing conversation.
func (s *Service) SendAdminMessage(ctx context.Context, adminID, conversationID, content string) error {
	content, err := NormalizeContent(content)
	if err != nil {
		return err
	}

	msg, err := s.store.Append(ctx, AppendInput{
		ConversationID: conversationID,
		AuthorIsAdmin:  true,
		SenderID:       adminID,
		Content:        content,
	})
	if err != nil {
		return s.fail("append message", err, "conversation_id", conversationID)
	}

	if s.reminders != nil {
		if err := s.reminders.ScheduleUnreadReminder(ctx, conversationID); err != nil {
			s.logger.Warn("failed to schedule unread reminder", "conversation_id", conversationID, "error", err)
		}
	}

	s.logger.Debug("admin message appended", "conversation_id", conversationID, "message_id", msg.ID)
	return nil
}

// MarkAdminMessagesAsRead clears the admin unread counter.
func (s *Service) MarkAdminMessagesAsRead(ctx context.Context, conversationID string) error {
	if err := s.store.AcknowledgeRead(ctx, conversationID, true); err != nil {
		return s.fail("acknowledge read", err, "conversation_id", conversationID)
	}
	return nil
}

// ArchiveConversation hides a conversation from the admin worklist. Its
// messages stay readable, and the next client message reactivates it.
func (s *Service) ArchiveConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.store.SetStatus(ctx, conversationID, models.ConversationArchived)
	if err != nil {
		return nil, s.fail("archive conversation", err, "conversation_id", conversationID)
	}
	return conv, nil
}

func (s *Service) ReopenConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := s.store.SetStatus(ctx, conversationID, models.ConversationActive)
	if err != nil {
		return nil, s.fail("reopen conversation", err, "conversation_id", conversationID)
	}
	return conv, nil
}

// History returns recent messages of a conversation in chronological order.
func (s *Service) History(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs, err := s.recentMessages(ctx, conversationID)
	if err != nil {
		return nil, s.fail("list messages", err, "conversation_id", conversationID)
	}
	return msgs, nil
}

func (s *Service) conversationFor(ctx context.Context, clientID string) (string, error) {
	if s.cache != nil {
		if id, ok := s.cache.ConversationID(ctx, clientID); ok {
			return id, nil
		}
	}
	conv, err := s.store.GetOrCreateForClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if s.cache != nil {
		s.cache.RememberConversationID(ctx, clientID, conv.ID)
	}
	return conv.ID, nil
}

// recentMessages reads the newest page and flips it to chronological order.
func (s *Service) recentMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	msgs, err := s.store.ListByConversation(ctx, conversationID, s.historyLimit, Descending)
	if err != nil {
		return nil, err
	}
	slices.Reverse(msgs)
	if msgs == nil {
		msgs = []models.Message{}
	}
	return msgs, nil
}

func (s *Service) fail(op string, err error, attrs ...any) error {
	wrapped := persistenceError(op, err)
	attrs = append(attrs, "op", op, "error", err)
	if errors.Is(wrapped, ErrPersistence) {
		s.logger.Error("chat operation failed", attrs...)
	} else {
		s.logger.Info("chat operation rejected", attrs...)
	}
	return wrapped
}
