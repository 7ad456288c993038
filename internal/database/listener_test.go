package database

import (
	"testing"
	"time"

	"portal-backend/internal/feed"
	"portal-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessageNotification(t *testing.T) {
	payload := `{"table":"messages","type":"INSERT","record":{
		"id":"2b1c4c1e-7d0a-4a8e-9a53-0c8c1bda1c11",
		"conversation_id":"9c7f2a52-5f6e-4a1a-8d3e-5b1d8e9f0a22",
		"content":"¿Cuándo llega mi giro?",
		"is_admin":false,
		"sender_id":"5f3e1b2a-1111-4c4c-9d9d-aaaaaaaaaaaa",
		"created_at":"2026-10-14T09:30:00.123456+00:00"}}`

	ev, err := decodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, feed.TableMessages, ev.Table)
	assert.Equal(t, feed.Insert, ev.Type)
	require.NotNil(t, ev.Message)
	assert.Equal(t, "¿Cuándo llega mi giro?", ev.Message.Content)
	assert.Equal(t, "9c7f2a52-5f6e-4a1a-8d3e-5b1d8e9f0a22", ev.ConversationID())
	assert.True(t, ev.Message.CreatedAt.Equal(time.Date(2026, 10, 14, 9, 30, 0, 123456000, time.UTC)))
}

func TestDecodeConversationNotification(t *testing.T) {
	payload := `{"table":"conversations","type":"UPDATE","record":{
		"id":"9c7f2a52-5f6e-4a1a-8d3e-5b1d8e9f0a22",
		"client_id":"5f3e1b2a-1111-4c4c-9d9d-aaaaaaaaaaaa",
		"unread_client_count":0,
		"unread_admin_count":2,
		"last_message_at":"2026-10-14T09:30:00.123456+00:00",
		"status":"archived",
		"created_at":"2026-10-01T08:00:00+00:00"}}`

	ev, err := decodeNotification(payload)
	require.NoError(t, err)
	assert.Equal(t, feed.TableConversations, ev.Table)
	assert.Equal(t, feed.Update, ev.Type)
	require.NotNil(t, ev.Conversation)
	assert.Equal(t, 2, ev.Conversation.UnreadAdminCount)
	assert.Equal(t, models.ConversationArchived, ev.Conversation.Status)
}

func TestDecodeNotificationRejectsUnknownShapes(t *testing.T) {
	for _, payload := range []string{
		`not json`,
		`{"table":"profiles","type":"INSERT","record":{}}`,
		`{"table":"messages","type":"DELETE","record":{}}`,
		`{"table":"messages","type":"INSERT","record":"oops"}`,
	} {
		_, err := decodeNotification(payload)
		assert.Error(t, err, payload)
	}
}
