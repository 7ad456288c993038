package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"portal-backend/internal/api"
	"portal-backend/internal/auth"
	"portal-backend/internal/chat"
	"portal-backend/internal/config"
	"portal-backend/internal/feed"
	"portal-backend/internal/memstore"
	"portal-backend/internal/models"
	"portal-backend/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendServer struct {
	url   string
	hub   *feed.Hub
	store *memstore.Store
	jwt   *auth.JWTManager
}

func startBackend(t *testing.T) *backendServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := feed.NewHub(nil)
	store := memstore.New(hub)
	jwtManager := auth.NewJWTManagerWithSecret("client-test")

	router := gin.New()
	api.SetupRoutes(router, api.Dependencies{
		Config:    config.New(),
		Chat:      chat.NewService(store),
		Feed:      hub,
		Verifier:  jwtManager,
		Directory: store,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &backendServer{url: srv.URL, hub: hub, store: store, jwt: jwtManager}
}

func (b *backendServer) client(t *testing.T, userID, role string) *Client {
	t.Helper()
	token, err := b.jwt.Generate(userID, userID+"@example.com", role, time.Hour)
	require.NoError(t, err)
	return New(b.url, token)
}

func TestAPIErrorUnwrapsToChatErrors(t *testing.T) {
	assert.ErrorIs(t, &APIError{StatusCode: http.StatusBadRequest}, chat.ErrValidation)
	assert.ErrorIs(t, &APIError{StatusCode: http.StatusNotFound}, chat.ErrNotFound)
	assert.ErrorIs(t, &APIError{StatusCode: http.StatusForbidden}, chat.ErrForbidden)
	assert.NoError(t, (&APIError{StatusCode: http.StatusInternalServerError}).Unwrap())
}

func TestClientRoundTrip(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	clientID := uuid.NewString()
	c := b.client(t, clientID, models.RoleClient)
	admin := b.client(t, uuid.NewString(), models.RoleAdmin)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, clientID, me.UserID)

	conv, err := c.GetMyConversation(ctx)
	require.NoError(t, err)
	assert.Nil(t, conv)

	_, err = c.SendMessage(ctx, "  ")
	assert.ErrorIs(t, err, chat.ErrValidation)

	convID, err := c.SendMessage(ctx, "hola")
	require.NoError(t, err)

	rows, err := admin.GetAdminConversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, convID, rows[0].ID)

	require.NoError(t, admin.SendAdminMessage(ctx, convID, "buenas"))
	details, err := admin.GetAdminConversationDetails(ctx, convID)
	require.NoError(t, err)
	assert.Len(t, details.Messages, 2)

	archived, err := admin.ArchiveConversation(ctx, convID)
	require.NoError(t, err)
	assert.True(t, archived.IsArchived())
	reopened, err := admin.ReopenConversation(ctx, convID)
	require.NoError(t, err)
	assert.False(t, reopened.IsArchived())

	require.NoError(t, c.MarkAsRead(ctx, convID))
	require.NoError(t, admin.MarkAdminMessagesAsRead(ctx, convID))

	_, err = c.GetAdminConversations(ctx, "")
	assert.ErrorIs(t, err, chat.ErrForbidden)

	err = admin.SendAdminMessage(ctx, uuid.NewString(), "hola")
	assert.ErrorIs(t, err, chat.ErrNotFound)
}

func TestRemoteSurfacesConverge(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	clientID, adminID := uuid.NewString(), uuid.NewString()
	c := b.client(t, clientID, models.RoleClient)
	admin := b.client(t, adminID, models.RoleAdmin)

	page, err := session.NewClientPage(ctx, c.ClientBackend(), c.Feed(false), clientID, nil, nil)
	require.NoError(t, err)
	defer page.Close()

	_, err = page.Submit("Hola, quiero enviar un giro")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		s := page.Snapshot()
		return s.ConversationID != "" && s.Connected && len(s.Messages) == 1 && !s.Messages[0].Optimistic
	}, 3*time.Second, 10*time.Millisecond)
	convID := page.Snapshot().ConversationID

	inbox, err := session.NewAdminInbox(ctx, admin.AdminBackend(), admin.Feed(true), adminID, "", nil, nil)
	require.NoError(t, err)
	defer inbox.Close()
	require.Len(t, inbox.List.Rows(), 1)

	thread, err := inbox.Open(convID, nil)
	require.NoError(t, err)
	_, err = thread.Submit("Claro, ¿a qué país?")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(page.Snapshot().Messages) == 2 && len(thread.Snapshot().Messages) == 2 &&
			!thread.Snapshot().Messages[1].Optimistic
	}, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Claro, ¿a qué país?", page.Snapshot().Messages[1].Content)

	// Both surfaces are active, so both counters end at zero.
	require.Eventually(t, func() bool {
		conv, err := b.store.GetByID(ctx, convID)
		return err == nil && conv.UnreadClientCount == 0 && conv.UnreadAdminCount == 0
	}, 3*time.Second, 10*time.Millisecond)

	// The server ends every stream; surfaces resubscribe over websocket.
	b.hub.Interrupt("test")
	require.Eventually(t, func() bool {
		return page.Snapshot().Connected && b.hub.Len() >= 3
	}, 5*time.Second, 20*time.Millisecond)

	_, err = page.Submit("Colombia")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := thread.Snapshot().Messages
		return len(msgs) == 3 && msgs[2].Content == "Colombia"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFeedRejectsForeignConversation(t *testing.T) {
	b := startBackend(t)
	ctx := context.Background()
	owner := b.client(t, uuid.NewString(), models.RoleClient)
	convID, err := owner.SendMessage(ctx, "hola")
	require.NoError(t, err)

	other := b.client(t, uuid.NewString(), models.RoleClient)
	_, err = other.Feed(false).Subscribe(ctx, feed.Filter{ConversationID: convID})
	assert.ErrorIs(t, err, chat.ErrForbidden)

	_, err = owner.Feed(false).Subscribe(ctx, feed.Filter{})
	assert.ErrorIs(t, err, feed.ErrInvalidFilter)

	st, err := owner.Feed(false).Subscribe(ctx, feed.Filter{ConversationID: convID})
	require.NoError(t, err)
	st.Close()
	st.Close()
	require.Eventually(t, func() bool { return b.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, st.Err())
}
