package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"portal-backend/internal/chat"
	"portal-backend/internal/memstore"
	"portal-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	tasks []Task
	opts  []EnqueueOption
	err   error
}

func (c *recordingClient) Enqueue(_ context.Context, t Task, opts ...EnqueueOption) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.tasks = append(c.tasks, t)
	c.opts = append(c.opts, opts...)
	return "task-1", nil
}

func (c *recordingClient) Close() error { return nil }

type sentReminder struct {
	to, name string
	unread   int
}

type recordingMailer struct {
	sent []sentReminder
	err  error
}

func (m *recordingMailer) SendUnreadReminder(to, name string, unread int) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentReminder{to, name, unread})
	return nil
}

func TestParseQueueWeights(t *testing.T) {
	assert.Equal(t, map[string]int{"critical": 6, "default": 3, "low": 1}, parseQueueWeights("critical=6, default=3,low"))
	assert.Equal(t, map[string]int{"default": 1}, parseQueueWeights("default=0,=4"))
	assert.Empty(t, parseQueueWeights(""))
}

func TestAsynqOptions(t *testing.T) {
	assert.Nil(t, asynqOptions(nil))
	assert.Len(t, asynqOptions([]EnqueueOption{{ProcessIn: time.Minute, UniqueTTL: time.Hour, MaxRetry: 3}}), 3)
	assert.Len(t, asynqOptions([]EnqueueOption{{ProcessIn: time.Minute}}), 1)
	assert.Empty(t, asynqOptions([]EnqueueOption{{}}))
}

func TestScheduleUnreadReminder(t *testing.T) {
	client := &recordingClient{}
	s := NewReminderScheduler(client, 15*time.Minute)

	require.NoError(t, s.ScheduleUnreadReminder(context.Background(), "conv-1"))
	require.Len(t, client.tasks, 1)
	assert.Equal(t, TypeUnreadReminder, client.tasks[0].Type)
	assert.JSONEq(t, `{"conversation_id":"conv-1"}`, string(client.tasks[0].Payload))
	assert.Equal(t, 15*time.Minute, client.opts[0].ProcessIn)
	assert.Greater(t, client.opts[0].UniqueTTL, 15*time.Minute)
}

func TestScheduleUnreadReminderIgnoresDuplicates(t *testing.T) {
	s := NewReminderScheduler(&recordingClient{err: ErrDuplicate}, time.Minute)
	assert.NoError(t, s.ScheduleUnreadReminder(context.Background(), "conv-1"))

	s = NewReminderScheduler(&recordingClient{err: errors.New("redis down")}, time.Minute)
	assert.Error(t, s.ScheduleUnreadReminder(context.Background(), "conv-1"))
}

func reminderTask(t *testing.T, conversationID string) Task {
	payload, err := json.Marshal(unreadReminderPayload{ConversationID: conversationID})
	require.NoError(t, err)
	return Task{Type: TypeUnreadReminder, Payload: payload}
}

func TestReminderHandler(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	store.PutProfile(models.Profile{ID: "client-1", Email: "maria@example.com", FullName: "Maria Lopez"})
	mailer := &recordingMailer{}
	h := NewReminderHandler(store, store, mailer, nil)

	conv, err := store.GetOrCreateForClient(ctx, "client-1")
	require.NoError(t, err)
	_, err = store.Append(ctx, chat.AppendInput{ConversationID: conv.ID, AuthorIsAdmin: true, SenderID: "admin-1", Content: "Su giro llegó"})
	require.NoError(t, err)

	require.NoError(t, h.Handle(ctx, reminderTask(t, conv.ID)))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, sentReminder{"maria@example.com", "Maria Lopez", 1}, mailer.sent[0])

	// Once read, nothing is sent.
	require.NoError(t, store.AcknowledgeRead(ctx, conv.ID, false))
	require.NoError(t, h.Handle(ctx, reminderTask(t, conv.ID)))
	assert.Len(t, mailer.sent, 1)
}

func TestReminderHandlerDropsAndRetries(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil)
	mailer := &recordingMailer{}
	h := NewReminderHandler(store, store, mailer, nil)

	assert.NoError(t, h.Handle(ctx, Task{Type: TypeUnreadReminder, Payload: []byte("{")}))
	assert.NoError(t, h.Handle(ctx, reminderTask(t, "missing")))

	// No profile: dropped.
	conv, err := store.GetOrCreateForClient(ctx, "client-2")
	require.NoError(t, err)
	_, err = store.Append(ctx, chat.AppendInput{ConversationID: conv.ID, AuthorIsAdmin: true, SenderID: "admin-1", Content: "hola"})
	require.NoError(t, err)
	assert.NoError(t, h.Handle(ctx, reminderTask(t, conv.ID)))
	assert.Empty(t, mailer.sent)

	// Mail failure: retried.
	store.PutProfile(models.Profile{ID: "client-2", Email: "jose@example.com"})
	mailer.err = errors.New("smtp timeout")
	assert.Error(t, h.Handle(ctx, reminderTask(t, conv.ID)))
}
