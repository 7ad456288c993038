package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"portal-backend/internal/chat"
)

// TypeUnreadReminder follows up on an admin reply the client has not read.
const TypeUnreadReminder = "chat:unread_reminder"

type unreadReminderPayload struct {
	ConversationID string `json:"conversation_id"`
}

// ReminderScheduler enqueues one delayed reminder per conversation.
type ReminderScheduler struct {
	client Client
	delay  time.Duration
}

var _ chat.ReminderScheduler = (*ReminderScheduler)(nil)

func NewReminderScheduler(client Client, delay time.Duration) *ReminderScheduler {
	return &ReminderScheduler{client: client, delay: delay}
}

// ScheduleUnreadReminder is a no-op while a reminder for the same
// conversation is already pending.
func (s *ReminderScheduler) ScheduleUnreadReminder(ctx context.Context, conversationID string) error {
	payload, err := json.Marshal(unreadReminderPayload{ConversationID: conversationID})
	if err != nil {
		return err
	}
	_, err = s.client.Enqueue(ctx, Task{Type: TypeUnreadReminder, Payload: payload}, EnqueueOption{
		ProcessIn: s.delay,
		UniqueTTL: s.delay + time.Minute,
		MaxRetry:  3,
	})
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// Mailer delivers the reminder email.
type Mailer interface {
	SendUnreadReminder(toEmail, name string, unread int) error
}

// ReminderHandler emails the client if the admin messages are still unread
// when the task runs.
type ReminderHandler struct {
	conversations chat.ConversationRegistry
	directory     chat.Directory
	mailer        Mailer
	logger        *slog.Logger
}

func NewReminderHandler(conversations chat.ConversationRegistry, directory chat.Directory, mailer Mailer, logger *slog.Logger) *ReminderHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderHandler{conversations: conversations, directory: directory, mailer: mailer, logger: logger}
}

func (h *ReminderHandler) Handle(ctx context.Context, task Task) error {
	var p unreadReminderPayload
	if err := json.Unmarshal(task.Payload, &p); err != nil {
		// Retrying a malformed payload cannot succeed.
		h.logger.Error("dropping malformed reminder", "error", err)
		return nil
	}

	conv, err := h.conversations.GetByID(ctx, p.ConversationID)
	if errors.Is(err, chat.ErrNotFound) {
		h.logger.Info("reminder for unknown conversation dropped", "conversation_id", p.ConversationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}
	if conv.UnreadClientCount == 0 {
		h.logger.Debug("client already read admin messages", "conversation_id", conv.ID)
		return nil
	}

	profile, err := h.directory.GetProfile(ctx, conv.ClientID)
	if errors.Is(err, chat.ErrNotFound) || (err == nil && profile.Email == "") {
		h.logger.Info("no email address for reminder", "conversation_id", conv.ID, "client_id", conv.ClientID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}

	if err := h.mailer.SendUnreadReminder(profile.Email, profile.FullName, conv.UnreadClientCount); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}
	h.logger.Info("unread reminder sent", "conversation_id", conv.ID, "unread", conv.UnreadClientCount)
	return nil
}
